package session

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shepherdsec/console/internal/protocol"
)

// recordingActions captures side effects for assertions.
type recordingActions struct {
	cancels []int
	focused int
	alerts  []string
}

func (a *recordingActions) CancelRun(delayMs int) { a.cancels = append(a.cancels, delayMs) }
func (a *recordingActions) FocusInput()           { a.focused++ }
func (a *recordingActions) Alert(msg string)      { a.alerts = append(a.alerts, msg) }

func msgOf(t *testing.T, typ string, data any) *protocol.Message {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return &protocol.Message{Type: typ, Data: raw}
}

func TestUnknownTypeLeavesStateUntouched(t *testing.T) {
	state := NewState()
	acts := &recordingActions{}
	r := NewRouter(state, acts)

	r.Route(msgOf(t, "totally-new-type", map[string]string{"x": "y"}))

	assert.Empty(t, state.Transcript())
	assert.False(t, state.Waiting())
	assert.Equal(t, StatusInitializing, state.Status())
	assert.Empty(t, acts.cancels)
}

func TestDescriptionAppendsAndEndsOnSentinel(t *testing.T) {
	state := NewState()
	r := NewRouter(state, nil)

	r.Route(msgOf(t, protocol.TypeDescription, map[string]string{"message": "Deploying contracts"}))
	assert.Equal(t, StatusStarted, state.Status())

	r.Route(msgOf(t, protocol.TypeDescription, map[string]string{"message": protocol.EndingRunMessage}))
	assert.Equal(t, StatusEnded, state.Status())

	entries := state.Transcript()
	require.Len(t, entries, 2)
	assert.Equal(t, "system", entries[0].From)
	assert.Equal(t, protocol.EndingRunMessage, entries[1].Text)
}

func TestPromptSetsWaitingAndFocus(t *testing.T) {
	state := NewState()
	acts := &recordingActions{}
	r := NewRouter(state, acts)

	r.Route(msgOf(t, protocol.TypePrompt, protocol.PromptPayload{Prompt: "Please enter a GitHub URL"}))

	assert.True(t, state.Waiting())
	assert.Equal(t, 1, acts.focused)
	last, ok := state.LastEntry()
	require.True(t, ok)
	assert.Equal(t, "Please enter a GitHub URL", last.Text)
	assert.Equal(t, protocol.TypePrompt, last.Kind)
}

func TestPromptContractSelectionExtractsOptions(t *testing.T) {
	state := NewState()
	r := NewRouter(state, &recordingActions{})

	nested := fmt.Sprintf(`{"prompt":"%s","options":[{"label":"VotingEscrow","children":[{"label":"deposit"}]}]}`,
		protocol.ContractSelectionPrompt)
	r.Route(msgOf(t, protocol.TypePrompt, protocol.PromptPayload{Prompt: nested}))

	pending := state.Pending()
	require.NotNil(t, pending)
	assert.Equal(t, protocol.ContentOption, pending.Type)
	assert.Contains(t, string(pending.Options), "VotingEscrow")

	last, _ := state.LastEntry()
	assert.Equal(t, protocol.ContractSelectionPrompt, last.Text)
	assert.True(t, state.Waiting())
}

func TestPromptContractSelectionMalformedJSONIsDropped(t *testing.T) {
	state := NewState()
	r := NewRouter(state, &recordingActions{})

	r.Route(msgOf(t, protocol.TypePrompt, protocol.PromptPayload{
		Prompt: protocol.ContractSelectionPrompt + " {broken",
	}))

	assert.Empty(t, state.Transcript())
	assert.False(t, state.Waiting())
}

func TestPromptChoiceList(t *testing.T) {
	state := NewState()
	r := NewRouter(state, &recordingActions{})

	nested := fmt.Sprintf(`{"prompt":"%s","choices":["Run again","Stop"]}`, protocol.WhatNextPrompt)
	r.Route(msgOf(t, protocol.TypePrompt, protocol.PromptPayload{Prompt: nested}))

	pending := state.Pending()
	require.NotNil(t, pending)
	assert.Equal(t, protocol.ContentChoice, pending.Type)
	assert.JSONEq(t, `["Run again","Stop"]`, string(pending.Options))
}

func TestPromptRunAnotherMasExposesRadio(t *testing.T) {
	state := NewState()
	r := NewRouter(state, &recordingActions{})

	r.Route(msgOf(t, protocol.TypePrompt, protocol.PromptPayload{
		Prompt: "Would you like to Run Another MAS?",
	}))

	pending := state.Pending()
	require.NotNil(t, pending)
	assert.Equal(t, protocol.ContentRadio, pending.Type)
}

func TestPromptIgnoredInReadOnly(t *testing.T) {
	state := NewState()
	r := NewRouter(state, &recordingActions{})
	r.ReadOnly = true

	r.Route(msgOf(t, protocol.TypePrompt, protocol.PromptPayload{Prompt: "hi"}))
	assert.Empty(t, state.Transcript())
	assert.False(t, state.Waiting())
}

func TestUserInputReplay(t *testing.T) {
	state := NewState()
	r := NewRouter(state, &recordingActions{})
	r.ReadOnly = true

	// Null value: system-originated marker rendered as a prompt.
	r.Route(msgOf(t, protocol.TypeUserInput, map[string]any{"prompt": "Pick something", "value": nil}))
	last, _ := state.LastEntry()
	assert.Equal(t, "system", last.From)
	assert.Equal(t, "Pick something", last.Text)

	// Real echoed value becomes a user entry.
	r.Route(msgOf(t, protocol.TypeUserInput, map[string]any{"prompt": "Pick something", "value": "0xabc"}))
	last, _ = state.LastEntry()
	assert.Equal(t, "user", last.From)
	assert.Equal(t, "0xabc", last.Text)
	assert.Equal(t, protocol.ContentInput, last.Kind)

	// Run-another answers collapse to yes/no radio entries.
	r.Route(msgOf(t, protocol.TypeUserInput, map[string]any{"prompt": "run another mas?", "value": "y"}))
	last, _ = state.LastEntry()
	assert.Equal(t, "yes", last.Text)
	assert.Equal(t, protocol.ContentRadio, last.Kind)
}

func TestUserInputIgnoredWhenLive(t *testing.T) {
	state := NewState()
	r := NewRouter(state, &recordingActions{})

	r.Route(msgOf(t, protocol.TypeUserInput, map[string]any{"prompt": "p", "value": "v"}))
	assert.Empty(t, state.Transcript())
}

func TestToolCallAndResultTranscript(t *testing.T) {
	state := NewState()
	r := NewRouter(state, &recordingActions{})

	r.Route(msgOf(t, protocol.TypeExecutorToolCall, protocol.ToolCallPayload{ToolName: "send_tx", Contracts: []string{"A"}}))
	last, _ := state.LastEntry()
	assert.Equal(t, "Calling tool send_tx", last.Text)

	r.Route(msgOf(t, protocol.TypeExecutorToolResult, protocol.ToolResultPayload{
		ToolName: "send_tx", Status: "success", ToolOutput: "tx mined",
	}))
	last, _ = state.LastEntry()
	assert.Equal(t, "send_tx: success - tx mined", last.Text)

	r.Route(msgOf(t, protocol.TypeExecutorToolResult, protocol.ToolResultPayload{
		ToolName: "send_tx", Status: "error", ErrorType: "revert",
	}))
	last, _ = state.LastEntry()
	assert.Equal(t, "send_tx: ERROR - revert", last.Text)
}

func TestIdleTimeoutAlertsAndCancels(t *testing.T) {
	state := NewState()
	acts := &recordingActions{}
	r := NewRouter(state, acts)

	r.Route(msgOf(t, protocol.TypeIdleTimeout, map[string]string{"message": "idle too long"}))

	assert.Equal(t, []string{"idle too long"}, acts.alerts)
	assert.Equal(t, []int{protocol.CancelDelayIdleTimeout}, acts.cancels)
}

func TestCompleteCancelsGracefully(t *testing.T) {
	acts := &recordingActions{}
	r := NewRouter(NewState(), acts)

	r.Route(msgOf(t, protocol.TypeComplete, map[string]string{}))
	assert.Equal(t, []int{protocol.CancelDelayDefault}, acts.cancels)
}

func TestStderrCancelsWithOwnDelay(t *testing.T) {
	state := NewState()
	acts := &recordingActions{}
	r := NewRouter(state, acts)

	r.Route(msgOf(t, protocol.TypeStderr, map[string]string{"message": "panic in executor"}))

	last, _ := state.LastEntry()
	assert.Equal(t, "Error: panic in executor", last.Text)
	assert.Equal(t, []int{protocol.CancelDelayStderr}, acts.cancels)
	assert.NotEqual(t, StatusError, state.Status())
}

func TestErrorSetsErrorStatusAndReopensInput(t *testing.T) {
	state := NewState()
	acts := &recordingActions{}
	r := NewRouter(state, acts)

	r.Route(msgOf(t, protocol.TypeError, map[string]string{"message": "executor crashed"}))

	last, _ := state.LastEntry()
	assert.Equal(t, "Error: executor crashed", last.Text)
	assert.Equal(t, []int{protocol.CancelDelayError}, acts.cancels)
	assert.Equal(t, StatusError, state.Status())
	assert.True(t, state.Waiting())
}

func TestEnvelopedDescriptionCancelsRun(t *testing.T) {
	state := NewState()
	acts := &recordingActions{}
	r := NewRouter(state, acts)

	raw, err := protocol.EncodeEnvelope("DESCRIPTION", map[string]string{"message": "Run finished early"})
	require.NoError(t, err)
	msg, err := protocol.Decode(raw)
	require.NoError(t, err)

	r.Route(msg)

	last, _ := state.LastEntry()
	assert.Equal(t, "Run finished early", last.Text)
	assert.Equal(t, []int{protocol.CancelDelayEnvelope}, acts.cancels)
}

func TestEnvelopedPromptReopensInput(t *testing.T) {
	state := NewState()
	acts := &recordingActions{}
	r := NewRouter(state, acts)

	raw, err := protocol.EncodeEnvelope("PROMPT", map[string]string{"prompt": "Continue?"})
	require.NoError(t, err)
	msg, err := protocol.Decode(raw)
	require.NoError(t, err)

	r.Route(msg)

	assert.True(t, state.Waiting())
	assert.Equal(t, 1, acts.focused)
	last, _ := state.LastEntry()
	assert.Equal(t, "Continue?", last.Text)
}

func TestAgentMessageVariants(t *testing.T) {
	state := NewState()
	r := NewRouter(state, &recordingActions{})

	r.Route(msgOf(t, protocol.TypeAgent, map[string]any{"agent_type": "Planner", "content": "thinking"}))
	last, _ := state.LastEntry()
	assert.Equal(t, "Planner agent:\nthinking", last.Text)

	r.Route(msgOf(t, protocol.TypeAgent, map[string]any{
		"agent_type": "Reporter",
		"content": []map[string]string{
			{"type": protocol.ContentHeader, "content": "Findings"},
			{"type": protocol.ContentText, "content": "Reentrancy in withdraw()"},
		},
	}))
	entries := state.Transcript()
	require.Len(t, entries, 3)
	assert.Equal(t, protocol.ContentHeader, entries[1].Kind)
	assert.Equal(t, "Reentrancy in withdraw()", entries[2].Text)
}

func TestOutputVariantsShareHandler(t *testing.T) {
	state := NewState()
	r := NewRouter(state, &recordingActions{})

	r.Route(msgOf(t, protocol.TypeStdout, "  raw stdout line \n"))
	last, _ := state.LastEntry()
	assert.Equal(t, "raw stdout line", last.Text)

	r.Route(msgOf(t, protocol.TypeLog, map[string]string{"message": "structured line"}))
	last, _ = state.LastEntry()
	assert.Equal(t, "structured line", last.Text)
}
