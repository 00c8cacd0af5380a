// Package graph folds the ordered tool-call/tool-result message stream of a
// run into the node and edge sets the diagram views render.
package graph

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shepherdsec/console/internal/protocol"
)

// AgentNodeID is the fixed id of the single agent node.
const AgentNodeID = "agent-root"

// Execution records one matched tool result against a contract.
type Execution struct {
	ToolName        string `json:"tool_name"`
	Status          string `json:"status"`
	Reason          string `json:"reason,omitempty"`
	Output          string `json:"tool_output,omitempty"`
	CallTimestamp   string `json:"call_timestamp,omitempty"`
	ResultTimestamp string `json:"timestamp,omitempty"`
}

// ContractNode accumulates outcomes for one contract, keyed by name.
// Counters only grow; the graph is append-only for the life of a run.
type ContractNode struct {
	Name       string      `json:"name"`
	Successes  int         `json:"successes"`
	Failures   int         `json:"failures"`
	Executions []Execution `json:"executions"`
}

// Edge is one tool invocation against one contract.
type Edge struct {
	Source    string `json:"source"`
	Target    string `json:"target"`
	ToolName  string `json:"tool_name"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Node is a renderer-facing node, agent or contract.
type Node struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Type      string `json:"type"`
	Successes int    `json:"successes,omitempty"`
	Failures  int    `json:"failures,omitempty"`
}

// Graph is the derived view of a run's tool events.
type Graph struct {
	AgentLabel string
	contracts  map[string]*ContractNode
	order      []string
	Edges      []Edge
}

// pendingCall is a tool call awaiting its result.
type pendingCall struct {
	streamID  string
	toolName  string
	contracts []string
	timestamp string
	consumed  bool
}

// Fold rebuilds the graph from the full ordered message list. It is a pure
// function of its input: the same list always yields the same graph.
//
// A result is paired with the most recent prior call with the same tool name
// that has not already been matched. Results carry their own stream id, not
// the call's, so stream-id equality cannot pair them; consuming calls keeps a
// burst of same-named calls from all collapsing onto one.
func Fold(msgs []protocol.Message) *Graph {
	g := &Graph{
		AgentLabel: "Agent",
		contracts:  make(map[string]*ContractNode),
	}
	var calls []*pendingCall

	for i := range msgs {
		msg := &msgs[i]
		switch msg.Type {
		case protocol.TypeAgent:
			var payload protocol.AgentPayload
			if err := json.Unmarshal(msg.Data, &payload); err == nil {
				g.AgentLabel = AgentLabel(&payload)
			}

		case protocol.TypeExecutorToolCall:
			var call protocol.ToolCallPayload
			if err := json.Unmarshal(msg.Data, &call); err != nil {
				continue
			}
			calls = append(calls, &pendingCall{
				streamID:  msg.StreamID,
				toolName:  call.ToolName,
				contracts: call.Contracts,
				timestamp: call.Timestamp,
			})
			for _, name := range call.Contracts {
				g.ensureContract(name)
			}

		case protocol.TypeExecutorToolResult:
			var res protocol.ToolResultPayload
			if err := json.Unmarshal(msg.Data, &res); err != nil {
				continue
			}
			matched := latestUnconsumed(calls, res.ToolName)
			if matched == nil {
				continue
			}
			matched.consumed = true
			for _, name := range matched.contracts {
				node := g.ensureContract(name)
				if res.Status == "success" {
					node.Successes++
				} else {
					node.Failures++
				}
				node.Executions = append(node.Executions, Execution{
					ToolName:        res.ToolName,
					Status:          res.Status,
					Reason:          res.Reason,
					Output:          res.ToolOutput,
					CallTimestamp:   matched.timestamp,
					ResultTimestamp: res.Timestamp,
				})
				g.Edges = append(g.Edges, Edge{
					Source:    AgentNodeID,
					Target:    name,
					ToolName:  res.ToolName,
					Status:    res.Status,
					Reason:    res.Reason,
					Timestamp: res.Timestamp,
				})
			}
		}
	}
	return g
}

func latestUnconsumed(calls []*pendingCall, toolName string) *pendingCall {
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].toolName == toolName && !calls[i].consumed {
			return calls[i]
		}
	}
	return nil
}

func (g *Graph) ensureContract(name string) *ContractNode {
	if node, ok := g.contracts[name]; ok {
		return node
	}
	node := &ContractNode{Name: name}
	g.contracts[name] = node
	g.order = append(g.order, name)
	return node
}

// Contract returns the node for a contract name, nil if never mentioned.
func (g *Graph) Contract(name string) *ContractNode {
	return g.contracts[name]
}

// Contracts returns contract nodes in first-seen order.
func (g *Graph) Contracts() []*ContractNode {
	out := make([]*ContractNode, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.contracts[name])
	}
	return out
}

// Nodes returns renderer-facing nodes, agent first, contracts in first-seen
// order with success/failure tallies in the label.
func (g *Graph) Nodes() []Node {
	nodes := make([]Node, 0, len(g.order)+1)
	nodes = append(nodes, Node{ID: AgentNodeID, Label: g.AgentLabel, Type: "agent"})
	for _, name := range g.order {
		c := g.contracts[name]
		nodes = append(nodes, Node{
			ID:        ContractNodeID(name),
			Label:     fmt.Sprintf("%s\n✓ %d | ✗ %d", ContractLabel(name), c.Successes, c.Failures),
			Type:      "contract",
			Successes: c.Successes,
			Failures:  c.Failures,
		})
	}
	return nodes
}

// ContractNodeID derives a stable node id from a contract name.
func ContractNodeID(name string) string {
	return "c-" + name
}

// ContractLabel shortens hex addresses for display.
func ContractLabel(name string) string {
	if name == "" {
		return "Contract"
	}
	if IsHexAddress(name) {
		return name[:6] + "…" + name[len(name)-4:]
	}
	return name
}

// IsHexAddress reports whether s looks like a 20-byte hex address.
func IsHexAddress(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, r := range s[2:] {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}

// AgentLabel derives the agent node label from an agent payload. When the
// type only appears inside an embedded JSON content blob, dig it out.
func AgentLabel(payload *protocol.AgentPayload) string {
	agent := payload.AgentType
	if agent == "" {
		agent = payload.Agent
	}
	if agent == "" {
		agent = payload.Name
	}
	if agent == "" && len(payload.Content) > 0 {
		var content string
		if err := json.Unmarshal(payload.Content, &content); err == nil {
			cleaned := strings.TrimSpace(strings.SplitN(content, "<<<END_", 2)[0])
			var inner struct {
				AgentType string `json:"agent_type"`
			}
			if err := json.Unmarshal([]byte(cleaned), &inner); err == nil {
				agent = inner.AgentType
			}
		}
	}
	if agent == "" {
		agent = "Unknown"
	}
	return "Agent: " + agent
}
