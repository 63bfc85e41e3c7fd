package timeline

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultPageSize is the number of entries requested per backward load.
const DefaultPageSize = 20

// Pager fetches timeline entries strictly older than a cursor.
// Implementations must return entries in ascending chronological order.
type Pager interface {
	Before(ctx context.Context, cursor string, limit int) (CursorPage, error)
}

// MessageSource is the live-entry feed the reconciler subscribes to.
// A stream channel satisfies this.
type MessageSource interface {
	SetMessageHandler(handler func(Entry))
}

// Reconciler owns the authoritative in-memory ordered timeline for one
// session. It merges the initial page, backward-paginated history, and
// live-pushed entries while preserving chronological order: verified-older
// pages are only ever prepended and live entries are only ever appended.
// The sequence is never re-sorted.
//
// All methods are safe for concurrent use; a single mutex guards the
// timeline, the cursor, and the derived status fields.
type Reconciler struct {
	mu sync.Mutex

	user    User
	session Session
	pager   Pager
	logger  *slog.Logger

	entries    []Entry
	knownTotal int

	// Backward pagination state. An empty oldestCursor means no history
	// position was ever established (empty initial page).
	oldestCursor string
	hasMoreOlder bool
	loadingOlder bool
	pageSize     int

	// Derived transient state, interpreted from special entry kinds.
	lastAckTime     time.Time
	lastAckType     AckType
	agentStatus     AgentStatus
	agentStatusTime time.Time

	newMessage func()
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithPageSize overrides the backward-load page size.
func WithPageSize(n int) ReconcilerOption {
	return func(r *Reconciler) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// WithReconcilerLogger sets the logger used for recovered failures.
func WithReconcilerLogger(logger *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReconciler builds a reconciler for one session and registers it as the
// source's message handler. Ownership of session.Timeline.Data transfers to
// the reconciler; callers must not mutate it afterwards.
func NewReconciler(user User, session Session, source MessageSource, pager Pager, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		user:         user,
		session:      session,
		pager:        pager,
		logger:       slog.Default(),
		entries:      session.Timeline.Data,
		knownTotal:   session.Timeline.PageInfo.Total,
		hasMoreOlder: true,
		pageSize:     DefaultPageSize,
		newMessage:   func() {},
	}
	for _, opt := range opts {
		opt(r)
	}
	if len(r.entries) > 0 {
		r.oldestCursor = r.entries[0].CreatedAt
	}
	source.SetMessageHandler(r.OnEvent)
	return r
}

// OnEvent appends a live entry to the tail of the timeline and updates the
// derived status fields. Live entries are trusted as "now": they go to the
// tail regardless of their createdAt, in delivery order. Entries are never
// deduplicated against history.
func (r *Reconciler) OnEvent(entry Entry) {
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.knownTotal++

	switch entry.ContentType {
	case ContentTypeAcknowledgment:
		if c, ok := entry.Content.(AcknowledgmentContent); ok {
			r.lastAckTime = entry.CreatedTime()
			r.lastAckType = c.AckType
		}
	case ContentTypeAgentStatus:
		if c, ok := entry.Content.(AgentStatusContent); ok {
			// A status update supersedes any pending ack indicator.
			r.agentStatus = c.Status
			r.agentStatusTime = entry.CreatedTime()
			r.lastAckType = ""
			r.lastAckTime = time.Time{}
		}
	case ContentTypeMessage:
		// The conversation moved forward; reset all transient indicators.
		r.lastAckType = ""
		r.lastAckTime = time.Time{}
		r.agentStatus = ""
		r.agentStatusTime = time.Time{}
	case ContentTypePrompt, ContentTypePromptResponse, ContentTypeAction, ContentTypeSpec, ContentTypeShell:
		// Timeline-only kinds, reserved for future handling.
	default:
		r.logger.Warn("unhandled session event type", "content_type", entry.ContentType, "entry_id", entry.ID)
	}

	callback := r.newMessage
	r.mu.Unlock()

	callback()
}

// LoadOlder fetches the page of entries strictly before the oldest known
// cursor and prepends it. It is a no-op while a load is in flight, once
// pagination is exhausted, or when no cursor was ever established. Fetch
// failures are logged and leave state unchanged; the next call retries.
func (r *Reconciler) LoadOlder(ctx context.Context) {
	r.mu.Lock()
	if r.loadingOlder || !r.hasMoreOlder || r.oldestCursor == "" {
		r.mu.Unlock()
		return
	}
	r.loadingOlder = true
	cursor := r.oldestCursor
	limit := r.pageSize
	r.mu.Unlock()

	page, err := r.pager.Before(ctx, cursor, limit)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadingOlder = false

	if err != nil {
		r.logger.Error("failed to load older entries", "session_id", r.session.ID, "cursor", cursor, "error", err)
		return
	}
	if len(page.Data) == 0 {
		r.hasMoreOlder = false
		return
	}

	merged := make([]Entry, 0, len(page.Data)+len(r.entries))
	merged = append(merged, page.Data...)
	merged = append(merged, r.entries...)
	r.entries = merged
	r.oldestCursor = page.Data[0].CreatedAt
	r.hasMoreOlder = page.HasMore
}

// SetNewMessageCallback registers the single presentation callback invoked
// after each live entry is appended. Setting replaces any previous callback.
func (r *Reconciler) SetNewMessageCallback(callback func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if callback == nil {
		callback = func() {}
	}
	r.newMessage = callback
}

// RemoveNewMessageCallback installs a no-op callback.
func (r *Reconciler) RemoveNewMessageCallback() {
	r.SetNewMessageCallback(nil)
}

// Entries returns a copy of the current timeline, oldest first.
func (r *Reconciler) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of entries currently held.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// KnownTotal returns the server-reported total plus live growth.
func (r *Reconciler) KnownTotal() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.knownTotal
}

// OldestCursor returns the createdAt key of the oldest known entry, or ""
// when no history position is established.
func (r *Reconciler) OldestCursor() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.oldestCursor
}

// HasMoreOlder reports whether backward pagination may yield more entries.
func (r *Reconciler) HasMoreOlder() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasMoreOlder
}

// IsLoadingOlder reports whether a backward load is in flight.
func (r *Reconciler) IsLoadingOlder() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadingOlder
}

// LastAcknowledgement returns the most recent ack state. The type is empty
// when no acknowledgment is pending.
func (r *Reconciler) LastAcknowledgement() (AckType, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastAckType, r.lastAckTime
}

// AgentStatus returns the agent's last reported activity state. The status
// is empty when none is pending.
func (r *Reconciler) AgentStatus() (AgentStatus, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agentStatus, r.agentStatusTime
}

// User returns the authenticated user this reconciler acts for.
func (r *Reconciler) User() User {
	return r.user
}

// Session returns the session metadata captured at construction.
func (r *Reconciler) Session() Session {
	return r.session
}
