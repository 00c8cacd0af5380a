// Package protocol defines the WebSocket message protocol between the console
// and the MAS backend.
package protocol

import "encoding/json"

// Message types from backend to console. Envelope tags normalize to these
// (lower-cased, underscores to hyphens); plain JSON frames carry them as-is.
const (
	TypePrompt             = "prompt"
	TypeUserInput          = "user-input"
	TypeDescription        = "description"
	TypePlannerStep        = "planner-step"
	TypeExecutorToolCall   = "executor-tool-call"
	TypeExecutorToolResult = "executor-tool-result"
	TypeAgent              = "agent"
	TypeOutput             = "output"
	TypeStdout             = "stdout"
	TypeLog                = "log"
	TypeIdleTimeout        = "idle_timeout"
	TypeComplete           = "complete"
	TypeStderr             = "stderr"
	TypeError              = "error"
	TypeEnd                = "end"
)

// TypeInput is the only console-to-backend frame type.
const TypeInput = "input"

// Content kinds for transcript entries and pending input widgets.
const (
	ContentInput  = "input"
	ContentOption = "option"
	ContentHeader = "header"
	ContentText   = "text"
	ContentTable  = "table"
	ContentRadio  = "radio"
	ContentChoice = "choice"
)

// Prompt sentinels the backend embeds in free text. The router branches on
// substring matches, the same contract the backend holds the web client to.
const (
	GithubURLPrompt          = "Please enter a GitHub URL"
	ContractSelectionPrompt  = "Select the contracts and functions you want to test"
	UpdatedChunkMapPrompt    = "Updated chunk map"
	NonDeployableFilesPrompt = "file names that are not deployable like interfaces"
	WhatNextPrompt           = "What would you like to do next?"
	RunAnotherMasPrompt      = "run another mas"
	EndingRunMessage         = "Ending Run."
)

// Cancel delays in milliseconds. Each protocol-signaled cancellation cause
// carries a distinct delay so the backend can tell them apart in its logs.
const (
	CancelDelayDefault     = 5000
	CancelDelayEnvelope    = 501
	CancelDelayIdleTimeout = 502
	CancelDelayStderr      = 503
	CancelDelayError       = 504
	CancelDelayDeclined    = 505
)

// WebSocket close codes treated as expected shutdown.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
)

// Message is a decoded inbound frame. Data keeps the payload raw; each router
// handler unmarshals the shape it expects. StreamID and TagType come from the
// outer plain-JSON envelope when present. Enveloped marks frames that arrived
// in tagged-envelope framing, which the router treats specially.
type Message struct {
	Type           string          `json:"type"`
	Data           json.RawMessage `json:"data"`
	TagType        string          `json:"tag_type,omitempty"`
	StreamID       string          `json:"stream_id,omitempty"`
	StreamComplete bool            `json:"stream_complete,omitempty"`
	Enveloped      bool            `json:"-"`
}

// PromptPayload is the data shape of prompt and user-input messages. Value is
// a pointer because a null value marks a system-originated replay entry.
type PromptPayload struct {
	Prompt string  `json:"prompt"`
	Value  *string `json:"value,omitempty"`
}

// NestedPrompt is the JSON some prompts embed inside their prompt text,
// carrying an options tree or a choice list next to the visible text.
type NestedPrompt struct {
	Prompt  string          `json:"prompt"`
	Options json.RawMessage `json:"options,omitempty"`
	Choices json.RawMessage `json:"choices,omitempty"`
}

// DescriptionPayload is the data shape of description messages.
type DescriptionPayload struct {
	Message string `json:"message"`
}

// ToolCallPayload is the data shape of executor-tool-call messages.
type ToolCallPayload struct {
	TagType   string   `json:"tag_type,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
	ToolName  string   `json:"tool_name"`
	Contracts []string `json:"contracts"`
}

// ToolResultPayload is the data shape of executor-tool-result messages.
type ToolResultPayload struct {
	TagType    string `json:"tag_type,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
	ToolName   string `json:"tool_name"`
	Status     string `json:"status"`
	ErrorType  string `json:"error_type,omitempty"`
	Reason     string `json:"reason,omitempty"`
	ToolOutput string `json:"tool_output,omitempty"`
}

// AgentPayload is the data shape of agent messages. Content is raw because
// the backend sends either a string or a list of typed content items.
type AgentPayload struct {
	AgentType string          `json:"agent_type,omitempty"`
	Agent     string          `json:"agent,omitempty"`
	Name      string          `json:"name,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// ContentItem is one element of an agent message's content list.
type ContentItem struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// InputFrame is the outbound console-to-backend frame.
type InputFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// EncodeInput marshals an input frame for the given value (string or list).
func EncodeInput(value any) ([]byte, error) {
	return json.Marshal(InputFrame{Type: TypeInput, Data: value})
}

// Text extracts human-readable text from a payload that is either a bare JSON
// string or an object with one of the given fields. Returns "" when neither
// shape applies.
func Text(data json.RawMessage, fields ...string) string {
	if len(data) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return ""
	}
	for _, f := range fields {
		if raw, ok := obj[f]; ok {
			if err := json.Unmarshal(raw, &s); err == nil && s != "" {
				return s
			}
		}
	}
	return ""
}
