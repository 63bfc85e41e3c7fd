package timeline

import "github.com/google/uuid"

// PageInfo describes an offset-paginated result.
type PageInfo struct {
	Page  int `json:"page"`
	Size  int `json:"size"`
	Total int `json:"total"`
}

// Page is one offset-paginated slice of timeline entries, as returned by
// the session bootstrap endpoint.
type Page struct {
	Data     []Entry  `json:"data"`
	PageInfo PageInfo `json:"pageInfo"`
}

// CursorPage is one backward-paginated slice of timeline entries.
// Data is in ascending chronological order; HasMore reports whether
// entries older than Data[0] exist.
type CursorPage struct {
	Data       []Entry `json:"data"`
	HasMore    bool    `json:"hasMore"`
	NextCursor string  `json:"nextCursor,omitempty"`
	PrevCursor string  `json:"prevCursor,omitempty"`
}

// Session is a collaborative session as loaded at bootstrap: metadata plus
// the first timeline page. The reconciler takes ownership of Timeline.Data
// at construction.
type Session struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Archived bool     `json:"archived,omitempty"`
	Timeline Page     `json:"timeline"`
	Spec     string   `json:"spec,omitempty"`
	Shell    []string `json:"shell,omitempty"`
}

// User is the authenticated user a reconciler acts for.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// InteractionType discriminates outbound user interactions.
type InteractionType string

const (
	InteractionMessage        InteractionType = "message"
	InteractionPromptResponse InteractionType = "promptResponse"
)

// Interaction is an outbound user action sent over the live channel.
// Delivery is at-most-once; the server pushes back acknowledgment entries
// for callers that need confirmation.
type Interaction struct {
	ID       string          `json:"id"`
	Type     InteractionType `json:"type"`
	Message  string          `json:"message,omitempty"`
	PromptID string          `json:"promptId,omitempty"`
	Response string          `json:"response,omitempty"`
}

// NewMessageInteraction builds a chat-message interaction with a fresh
// client-generated ID.
func NewMessageInteraction(message string) Interaction {
	return Interaction{
		ID:      uuid.NewString(),
		Type:    InteractionMessage,
		Message: message,
	}
}

// NewPromptResponse builds an answer to an agent prompt.
func NewPromptResponse(promptID, response string) Interaction {
	return Interaction{
		ID:       uuid.NewString(),
		Type:     InteractionPromptResponse,
		PromptID: promptID,
		Response: response,
	}
}
