package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	envelopeOpen  = "<<<"
	envelopeClose = ">>>"
)

// Decode parses a raw inbound frame into a Message. Two wire framings are
// tried in order: the tagged envelope <<<TAG>>>{json}<<<END_TAG>>> and plain
// JSON with top-level type/data fields. A frame matching neither, or plain
// JSON without a type, yields an error and the caller drops the frame.
func Decode(raw []byte) (*Message, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil, fmt.Errorf("empty frame")
	}

	if msg, ok := decodeEnvelope(text); ok {
		return msg, nil
	}

	var msg Message
	if err := json.Unmarshal([]byte(text), &msg); err != nil {
		return nil, fmt.Errorf("frame is neither envelope nor JSON: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("JSON frame has no type")
	}
	msg.Type = strings.ToLower(msg.Type)
	return &msg, nil
}

// decodeEnvelope handles the delimited framing. The JSON body is tolerated to
// be malformed (data becomes empty); the normalized type comes from an inner
// tag_type field when present, else from the envelope tag itself.
func decodeEnvelope(text string) (*Message, bool) {
	if !strings.HasPrefix(text, envelopeOpen) {
		return nil, false
	}
	end := strings.Index(text, envelopeClose)
	if end < 0 {
		return nil, false
	}
	tag := text[len(envelopeOpen):end]
	if !isEnvelopeTag(tag) {
		return nil, false
	}
	closing := envelopeOpen + "END_" + tag + envelopeClose
	if !strings.HasSuffix(text, closing) || len(text) < end+len(envelopeClose)+len(closing) {
		return nil, false
	}
	body := text[end+len(envelopeClose) : len(text)-len(closing)]

	data := json.RawMessage("{}")
	var probe struct {
		TagType string `json:"tag_type"`
	}
	if json.Valid([]byte(body)) {
		data = json.RawMessage(body)
		_ = json.Unmarshal([]byte(body), &probe)
	}

	typ := tag
	if probe.TagType != "" {
		typ = probe.TagType
	}
	return &Message{
		Type:      NormalizeTag(typ),
		Data:      data,
		TagType:   tag,
		Enveloped: true,
	}, true
}

// NormalizeTag lowers an envelope tag and converts underscores to hyphens,
// e.g. EXECUTOR_TOOL_CALL -> executor-tool-call.
func NormalizeTag(tag string) string {
	return strings.ReplaceAll(strings.ToLower(tag), "_", "-")
}

func isEnvelopeTag(tag string) bool {
	if tag == "" {
		return false
	}
	for _, r := range tag {
		if (r < 'A' || r > 'Z') && r != '_' {
			return false
		}
	}
	return true
}

// EncodeEnvelope builds a tagged-envelope frame around a JSON body.
func EncodeEnvelope(tag string, body any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope body: %w", err)
	}
	return []byte(envelopeOpen + tag + envelopeClose + string(b) + envelopeOpen + "END_" + tag + envelopeClose), nil
}
