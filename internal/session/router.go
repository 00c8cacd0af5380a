package session

import (
	"encoding/json"
	"log"
	"strings"

	"github.com/shepherdsec/console/internal/protocol"
)

// Actions are the side effects a message may trigger. Keeping them behind an
// interface leaves presentation decisions (how to alert, how to collect a
// waitlist email) out of protocol handling.
type Actions interface {
	// CancelRun requests run cancellation after delayMs milliseconds.
	CancelRun(delayMs int)
	// FocusInput asks the input surface to take focus.
	FocusInput()
	// Alert surfaces a blocking notice to the user.
	Alert(message string)
}

// NopActions ignores every side effect. Useful for read-only views and tests.
type NopActions struct{}

func (NopActions) CancelRun(int) {}
func (NopActions) FocusInput()   {}
func (NopActions) Alert(string)  {}

// Router folds decoded messages into session state. ReadOnly selects the
// replay path used when viewing a stored session: prompts are inert and
// user-input echoes are rendered instead.
type Router struct {
	State    *State
	Actions  Actions
	ReadOnly bool
}

// NewRouter wires a router over fresh or existing state.
func NewRouter(state *State, actions Actions) *Router {
	if actions == nil {
		actions = NopActions{}
	}
	return &Router{State: state, Actions: actions}
}

// Route applies exactly one handler for the message's type. Unrecognized
// types are logged and ignored; handlers never propagate errors.
func (r *Router) Route(msg *protocol.Message) {
	if msg == nil {
		return
	}
	if msg.Enveloped && r.routeEnvelope(msg) {
		return
	}

	switch msg.Type {
	case protocol.TypePrompt:
		r.handlePrompt(msg)
	case protocol.TypeUserInput:
		r.handleUserInput(msg)
	case protocol.TypeDescription:
		r.handleDescription(msg)
	case protocol.TypePlannerStep:
		r.State.AddSystem(protocol.Text(msg.Data, "content", "message"), protocol.TypePlannerStep)
	case protocol.TypeExecutorToolCall:
		r.handleToolCall(msg)
	case protocol.TypeExecutorToolResult:
		r.handleToolResult(msg)
	case protocol.TypeAgent:
		r.handleAgent(msg)
	case protocol.TypeOutput, protocol.TypeStdout, protocol.TypeLog:
		r.State.AddSystem(strings.TrimSpace(protocol.Text(msg.Data, "message")), protocol.TypeOutput)
	case protocol.TypeIdleTimeout:
		r.handleIdleTimeout(msg)
	case protocol.TypeComplete:
		r.Actions.CancelRun(protocol.CancelDelayDefault)
	case protocol.TypeStderr:
		r.handleProtocolError(msg, protocol.TypeStderr, protocol.CancelDelayStderr)
	case protocol.TypeError:
		r.handleProtocolError(msg, protocol.TypeError, protocol.CancelDelayError)
		r.State.SetStatus(StatusError)
		r.State.SetWaiting(true)
	case protocol.TypeEnd:
		// Recognized but carries no client-side effect.
	default:
		log.Printf("WARN: ignoring unknown message type %q", msg.Type)
	}
}

// routeEnvelope gives tagged-envelope frames their special treatment: an
// enveloped description also ends the run, an enveloped prompt reopens input.
// Other enveloped types fall through to the normal dispatch.
func (r *Router) routeEnvelope(msg *protocol.Message) bool {
	switch msg.Type {
	case protocol.TypeDescription:
		r.State.AddSystem(protocol.Text(msg.Data, "message", "text"), protocol.TypeDescription)
		r.Actions.CancelRun(protocol.CancelDelayEnvelope)
		return true
	case protocol.TypePrompt:
		if text := protocol.Text(msg.Data, "prompt", "message"); text != "" {
			r.State.AddSystem(text, protocol.TypePrompt)
		}
		r.State.SetWaiting(true)
		r.Actions.FocusInput()
		return true
	}
	return false
}

func (r *Router) handlePrompt(msg *protocol.Message) {
	if r.ReadOnly {
		return
	}
	var payload protocol.PromptPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		log.Printf("WARN: malformed prompt payload: %v", err)
		return
	}
	promptText := payload.Prompt

	if strings.Contains(promptText, protocol.ContractSelectionPrompt) {
		nested, ok := parseNested(promptText)
		if !ok {
			return
		}
		promptText = nested.Prompt
		r.State.SetPending(&PendingInput{Type: protocol.ContentOption, Options: nested.Options})
	} else if strings.Contains(promptText, protocol.WhatNextPrompt) {
		nested, ok := parseNested(promptText)
		if !ok {
			return
		}
		promptText = nested.Prompt
		r.State.SetPending(&PendingInput{Type: protocol.ContentChoice, Options: nested.Choices})
	}

	if strings.Contains(strings.ToLower(promptText), protocol.RunAnotherMasPrompt) {
		r.State.SetPending(&PendingInput{Type: protocol.ContentRadio})
	}

	r.State.AddSystem(promptText, protocol.TypePrompt)
	r.State.SetWaiting(true)
	r.Actions.FocusInput()
}

// handleUserInput renders echoed inputs when replaying a stored session. A
// null value marks a system-originated entry rather than a real answer.
func (r *Router) handleUserInput(msg *protocol.Message) {
	if !r.ReadOnly {
		return
	}
	var payload protocol.PromptPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		log.Printf("WARN: malformed user-input payload: %v", err)
		return
	}
	promptText := payload.Prompt

	if strings.Contains(promptText, protocol.ContractSelectionPrompt) {
		if nested, ok := parseNested(promptText); ok {
			promptText = nested.Prompt
		}
		r.State.AddSystem(promptText, protocol.TypePrompt)
		return
	}

	if payload.Value == nil {
		r.State.AddSystem(promptText, protocol.TypePrompt)
		return
	}

	value := *payload.Value
	switch {
	case strings.Contains(promptText, protocol.UpdatedChunkMapPrompt):
		r.State.AddUser(value, protocol.ContentOption)
	case strings.Contains(strings.ToLower(promptText), protocol.RunAnotherMasPrompt):
		answer := "no"
		if strings.Contains(value, "y") {
			answer = "yes"
		}
		r.State.AddUser(answer, protocol.ContentRadio)
	default:
		r.State.AddUser(value, protocol.ContentInput)
	}
}

func (r *Router) handleDescription(msg *protocol.Message) {
	text := protocol.Text(msg.Data, "message")
	r.State.AddSystem(text, protocol.TypeDescription)
	if text == protocol.EndingRunMessage {
		r.State.SetStatus(StatusEnded)
	}
}

func (r *Router) handleToolCall(msg *protocol.Message) {
	var call protocol.ToolCallPayload
	toolName := "Unknown Tool"
	if err := json.Unmarshal(msg.Data, &call); err == nil && call.ToolName != "" {
		toolName = call.ToolName
	}
	r.State.AddSystem("Calling tool "+toolName, protocol.TypeExecutorToolCall)
}

func (r *Router) handleToolResult(msg *protocol.Message) {
	var res protocol.ToolResultPayload
	if err := json.Unmarshal(msg.Data, &res); err != nil {
		log.Printf("WARN: malformed tool result payload: %v", err)
		return
	}
	toolName := res.ToolName
	if toolName == "" {
		toolName = "Tool"
	}
	status := res.Status
	if status == "" {
		status = "unknown"
	}
	if status == "error" || res.ErrorType != "" {
		detail := res.ErrorType
		if detail == "" {
			detail = res.Reason
		}
		if detail == "" {
			detail = "Unknown error"
		}
		r.State.AddSystem(toolName+": ERROR - "+detail, protocol.TypeExecutorToolResult)
		return
	}
	r.State.AddSystem(toolName+": "+status+" - "+res.ToolOutput, protocol.TypeExecutorToolResult)
}

func (r *Router) handleAgent(msg *protocol.Message) {
	var payload protocol.AgentPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		log.Printf("WARN: malformed agent payload: %v", err)
		return
	}

	var items []protocol.ContentItem
	if len(payload.Content) > 0 && json.Unmarshal(payload.Content, &items) == nil {
		for _, item := range items {
			r.State.AddSystem(item.Content, item.Type)
		}
		return
	}

	agentType := payload.AgentType
	if agentType == "" {
		agentType = "Unknown"
	}
	content := protocol.Text(payload.Content)
	if content == "" {
		content = protocol.Text(msg.Data, "content")
	}
	r.State.AddSystem(agentType+" agent:\n"+content, protocol.TypeAgent)
}

func (r *Router) handleIdleTimeout(msg *protocol.Message) {
	message := protocol.Text(msg.Data, "message")
	if message == "" {
		message = "This run has been canceled due to inactivity"
	}
	r.Actions.Alert(message)
	r.Actions.CancelRun(protocol.CancelDelayIdleTimeout)
}

func (r *Router) handleProtocolError(msg *protocol.Message, kind string, delayMs int) {
	errMsg := strings.TrimSpace(protocol.Text(msg.Data, "message"))
	if errMsg == "" {
		errMsg = "An error occurred"
	}
	r.State.AddSystem("Error: "+errMsg, kind)
	r.Actions.CancelRun(delayMs)
}

// parseNested extracts the embedded {prompt, options|choices} JSON some
// prompts carry. ok=false means the text claimed to embed JSON but did not
// parse; the caller drops the message, matching the replayed web client.
func parseNested(promptText string) (*protocol.NestedPrompt, bool) {
	var nested protocol.NestedPrompt
	if err := json.Unmarshal([]byte(promptText), &nested); err != nil {
		return nil, false
	}
	if nested.Prompt == "" {
		nested.Prompt = promptText
	}
	return &nested, true
}
