// Package timeline holds the session timeline data model and the reconciler
// that merges paginated history with live-pushed entries into a single
// chronologically ordered view.
package timeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// ContentType discriminates the payload carried by a timeline entry.
type ContentType string

const (
	ContentTypeMessage        ContentType = "message"
	ContentTypeAcknowledgment ContentType = "acknowledgment"
	ContentTypeAgentStatus    ContentType = "agentStatus"
	ContentTypePrompt         ContentType = "prompt"
	ContentTypePromptResponse ContentType = "promptResponse"
	ContentTypeAction         ContentType = "action"
	ContentTypeSpec           ContentType = "spec"
	ContentTypeShell          ContentType = "shell"
)

// AckType is the delivery state signaled by an acknowledgment entry.
type AckType string

const (
	AckSent      AckType = "sent"
	AckDelivered AckType = "delivered"
	AckSeen      AckType = "seen"
)

// AgentStatus is the remote agent's activity state.
type AgentStatus string

const (
	AgentThinking AgentStatus = "thinking"
	AgentTyping   AgentStatus = "typing"
	AgentPaused   AgentStatus = "paused"
	AgentError    AgentStatus = "error"
)

// Sender identifies the author of a message entry.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
)

// Entry is one persisted or live unit of session activity.
//
// CreatedAt is kept as the server's opaque ordering key (an ISO-8601
// string) rather than a parsed time.Time: the backward-pagination cursor
// is exactly this string, and round-tripping it through a timestamp type
// could change its byte representation. Use CreatedTime for presentation.
type Entry struct {
	ID          string      `json:"id"`
	SessionID   string      `json:"sessionId"`
	ContentType ContentType `json:"contentType"`
	Content     Content     `json:"content"`
	CreatedAt   string      `json:"createdAt"`
}

// CreatedTime parses the entry's creation timestamp.
// Returns the zero time if the timestamp is absent or malformed.
func (e Entry) CreatedTime() time.Time {
	t, err := time.Parse(time.RFC3339Nano, e.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Content is the closed set of payload variants an entry can carry.
// Unrecognized discriminators decode into UnknownContent so a wire-level
// surprise never fails the frame.
type Content interface {
	contentType() ContentType
}

// MessageContent is an actual chat message from the user or the agent.
type MessageContent struct {
	Sender  Sender `json:"sender"`
	Message string `json:"message"`
}

// AcknowledgmentContent signals delivery/seen state for the latest message.
type AcknowledgmentContent struct {
	AckType AckType `json:"ackType"`
}

// AgentStatusContent signals the agent's current activity.
type AgentStatusContent struct {
	Status AgentStatus `json:"status"`
}

// PromptContent is a question the agent poses to the user.
type PromptContent struct {
	PromptID string   `json:"promptId"`
	Prompt   string   `json:"prompt,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// PromptResponseContent is the user's answer to an agent prompt.
type PromptResponseContent struct {
	PromptID string `json:"promptId"`
	Response string `json:"response"`
}

// ActionContent describes an action the agent performed.
type ActionContent struct {
	ActionType string `json:"actionType"`
	Message    string `json:"message"`
}

// SpecContent carries a specification document update.
type SpecContent struct {
	Content string `json:"content"`
}

// ShellContent carries terminal output lines.
type ShellContent struct {
	Lines []string `json:"lines"`
}

// UnknownContent preserves the raw payload of an entry whose contentType
// this client does not recognize. The entry is still appended to the
// timeline; completeness wins over strict typing.
type UnknownContent struct {
	Type ContentType
	Raw  json.RawMessage
}

func (MessageContent) contentType() ContentType        { return ContentTypeMessage }
func (AcknowledgmentContent) contentType() ContentType { return ContentTypeAcknowledgment }
func (AgentStatusContent) contentType() ContentType    { return ContentTypeAgentStatus }
func (PromptContent) contentType() ContentType         { return ContentTypePrompt }
func (PromptResponseContent) contentType() ContentType { return ContentTypePromptResponse }
func (ActionContent) contentType() ContentType         { return ContentTypeAction }
func (SpecContent) contentType() ContentType           { return ContentTypeSpec }
func (ShellContent) contentType() ContentType          { return ContentTypeShell }
func (u UnknownContent) contentType() ContentType      { return u.Type }

// entryWire mirrors Entry with the content left raw for two-phase decoding.
type entryWire struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"sessionId"`
	ContentType ContentType     `json:"contentType"`
	Content     json.RawMessage `json:"content"`
	CreatedAt   string          `json:"createdAt"`
}

// UnmarshalJSON decodes the entry envelope, then dispatches on contentType
// to pick the concrete content variant.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var wire entryWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	content, err := decodeContent(wire.ContentType, wire.Content)
	if err != nil {
		return fmt.Errorf("decode %q content: %w", wire.ContentType, err)
	}

	e.ID = wire.ID
	e.SessionID = wire.SessionID
	e.ContentType = wire.ContentType
	e.Content = content
	e.CreatedAt = wire.CreatedAt
	return nil
}

// MarshalJSON re-encodes the entry in the wire shape.
func (e Entry) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage
	if e.Content != nil {
		var err error
		if u, ok := e.Content.(UnknownContent); ok {
			raw = u.Raw
		} else if raw, err = json.Marshal(e.Content); err != nil {
			return nil, err
		}
	}
	return json.Marshal(entryWire{
		ID:          e.ID,
		SessionID:   e.SessionID,
		ContentType: e.ContentType,
		Content:     raw,
		CreatedAt:   e.CreatedAt,
	})
}

func decodeContent(ct ContentType, raw json.RawMessage) (Content, error) {
	unmarshal := func(v Content) (Content, error) {
		if len(raw) == 0 {
			return v, nil
		}
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, err
		}
		return v, nil
	}

	switch ct {
	case ContentTypeMessage:
		v, err := unmarshal(&MessageContent{})
		return deref(v, err)
	case ContentTypeAcknowledgment:
		v, err := unmarshal(&AcknowledgmentContent{})
		return deref(v, err)
	case ContentTypeAgentStatus:
		v, err := unmarshal(&AgentStatusContent{})
		return deref(v, err)
	case ContentTypePrompt:
		v, err := unmarshal(&PromptContent{})
		return deref(v, err)
	case ContentTypePromptResponse:
		v, err := unmarshal(&PromptResponseContent{})
		return deref(v, err)
	case ContentTypeAction:
		v, err := unmarshal(&ActionContent{})
		return deref(v, err)
	case ContentTypeSpec:
		v, err := unmarshal(&SpecContent{})
		return deref(v, err)
	case ContentTypeShell:
		v, err := unmarshal(&ShellContent{})
		return deref(v, err)
	default:
		return UnknownContent{Type: ct, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

// deref flattens the pointer the decoder needed back into a value so
// Content comparisons in callers stay simple.
func deref(v Content, err error) (Content, error) {
	if err != nil {
		return nil, err
	}
	switch c := v.(type) {
	case *MessageContent:
		return *c, nil
	case *AcknowledgmentContent:
		return *c, nil
	case *AgentStatusContent:
		return *c, nil
	case *PromptContent:
		return *c, nil
	case *PromptResponseContent:
		return *c, nil
	case *ActionContent:
		return *c, nil
	case *SpecContent:
		return *c, nil
	case *ShellContent:
		return *c, nil
	default:
		return v, nil
	}
}
