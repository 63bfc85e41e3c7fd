package timeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeSource records the handler a reconciler registers.
type fakeSource struct {
	handler func(Entry)
}

func (s *fakeSource) SetMessageHandler(handler func(Entry)) {
	s.handler = handler
}

// fakePager serves scripted pages keyed by cursor.
type fakePager struct {
	mu      sync.Mutex
	pages   map[string]CursorPage
	err     error
	calls   int
	lastReq struct {
		cursor string
		limit  int
	}
	// block, when non-nil, is closed by the test to release an in-flight
	// Before call.
	block   chan struct{}
	entered chan struct{}
}

func (p *fakePager) Before(ctx context.Context, cursor string, limit int) (CursorPage, error) {
	p.mu.Lock()
	p.calls++
	p.lastReq.cursor = cursor
	p.lastReq.limit = limit
	block := p.block
	entered := p.entered
	p.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return CursorPage{}, p.err
	}
	return p.pages[cursor], nil
}

func entryAt(id, createdAt string, content Content) Entry {
	ct := ContentType("")
	if content != nil {
		ct = content.contentType()
	}
	return Entry{
		ID:          id,
		SessionID:   "sess-1",
		ContentType: ct,
		Content:     content,
		CreatedAt:   createdAt,
	}
}

func msgEntry(id, createdAt, text string, sender Sender) Entry {
	return entryAt(id, createdAt, MessageContent{Sender: sender, Message: text})
}

func newTestReconciler(t *testing.T, initial []Entry, total int, pager Pager, opts ...ReconcilerOption) (*Reconciler, *fakeSource) {
	t.Helper()
	source := &fakeSource{}
	session := Session{
		ID: "sess-1",
		Timeline: Page{
			Data:     initial,
			PageInfo: PageInfo{Page: 1, Size: len(initial), Total: total},
		},
	}
	r := NewReconciler(User{ID: "u1", Username: "ana"}, session, source, pager, opts...)
	if source.handler == nil {
		t.Fatal("reconciler did not register a message handler")
	}
	return r, source
}

func TestNewReconciler_InitialPage(t *testing.T) {
	initial := []Entry{
		msgEntry("e1", "2026-08-01T10:00:00Z", "hello", SenderUser),
		msgEntry("e2", "2026-08-01T10:01:00Z", "hi", SenderAgent),
	}
	r, _ := newTestReconciler(t, initial, 40, &fakePager{})

	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
	if r.KnownTotal() != 40 {
		t.Errorf("KnownTotal() = %d, want 40", r.KnownTotal())
	}
	if got := r.OldestCursor(); got != "2026-08-01T10:00:00Z" {
		t.Errorf("OldestCursor() = %q, want oldest entry's createdAt", got)
	}
	if !r.HasMoreOlder() {
		t.Error("HasMoreOlder() = false before any load")
	}
}

func TestNewReconciler_EmptyInitialPage(t *testing.T) {
	pager := &fakePager{}
	r, _ := newTestReconciler(t, nil, 0, pager)

	if got := r.OldestCursor(); got != "" {
		t.Errorf("OldestCursor() = %q, want empty", got)
	}

	// No cursor means backward loads are impossible, even though the
	// exhausted flag was never set.
	r.LoadOlder(context.Background())
	if pager.calls != 0 {
		t.Errorf("pager called %d times, want 0", pager.calls)
	}
}

func TestOnEvent_AppendsToTail(t *testing.T) {
	initial := []Entry{msgEntry("e1", "2026-08-01T10:00:00Z", "hello", SenderUser)}
	r, source := newTestReconciler(t, initial, 1, &fakePager{})

	// A live entry with an older createdAt still lands at the tail:
	// live events are trusted as "now".
	source.handler(msgEntry("e0", "2026-07-30T00:00:00Z", "stale clock", SenderAgent))

	entries := r.Entries()
	if len(entries) != 2 {
		t.Fatalf("Len() = %d, want 2", len(entries))
	}
	if entries[1].ID != "e0" {
		t.Errorf("tail entry = %q, want e0", entries[1].ID)
	}
	if r.KnownTotal() != 2 {
		t.Errorf("KnownTotal() = %d, want 2", r.KnownTotal())
	}
}

func TestOnEvent_DerivedState(t *testing.T) {
	tests := []struct {
		name       string
		events     []Entry
		wantAck    AckType
		wantStatus AgentStatus
	}{
		{
			name:    "ack sets indicator",
			events:  []Entry{entryAt("a1", "2026-08-01T10:00:00Z", AcknowledgmentContent{AckType: AckSeen})},
			wantAck: AckSeen,
		},
		{
			name: "status supersedes ack",
			events: []Entry{
				entryAt("a1", "2026-08-01T10:00:00Z", AcknowledgmentContent{AckType: AckDelivered}),
				entryAt("s1", "2026-08-01T10:00:01Z", AgentStatusContent{Status: AgentThinking}),
			},
			wantStatus: AgentThinking,
		},
		{
			name: "message clears everything",
			events: []Entry{
				entryAt("a1", "2026-08-01T10:00:00Z", AcknowledgmentContent{AckType: AckSent}),
				entryAt("s1", "2026-08-01T10:00:01Z", AgentStatusContent{Status: AgentTyping}),
				msgEntry("m1", "2026-08-01T10:00:02Z", "done", SenderAgent),
			},
		},
		{
			name: "ack after status keeps status",
			events: []Entry{
				entryAt("s1", "2026-08-01T10:00:00Z", AgentStatusContent{Status: AgentPaused}),
				entryAt("a1", "2026-08-01T10:00:01Z", AcknowledgmentContent{AckType: AckSeen}),
			},
			wantAck:    AckSeen,
			wantStatus: AgentPaused,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, source := newTestReconciler(t, nil, 0, &fakePager{})
			for _, e := range tt.events {
				source.handler(e)
			}

			ack, _ := r.LastAcknowledgement()
			if ack != tt.wantAck {
				t.Errorf("LastAcknowledgement() = %q, want %q", ack, tt.wantAck)
			}
			status, _ := r.AgentStatus()
			if status != tt.wantStatus {
				t.Errorf("AgentStatus() = %q, want %q", status, tt.wantStatus)
			}
			// Every event still landed on the timeline.
			if r.Len() != len(tt.events) {
				t.Errorf("Len() = %d, want %d", r.Len(), len(tt.events))
			}
		})
	}
}

func TestOnEvent_UnknownTypeStillAppended(t *testing.T) {
	r, source := newTestReconciler(t, nil, 0, &fakePager{})

	source.handler(Entry{
		ID:          "x1",
		ContentType: "holographic",
		Content:     UnknownContent{Type: "holographic"},
		CreatedAt:   "2026-08-01T10:00:00Z",
	})

	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestOnEvent_NewMessageCallback(t *testing.T) {
	r, source := newTestReconciler(t, nil, 0, &fakePager{})

	var calls int
	r.SetNewMessageCallback(func() { calls++ })

	source.handler(msgEntry("m1", "2026-08-01T10:00:00Z", "one", SenderAgent))
	source.handler(msgEntry("m2", "2026-08-01T10:00:01Z", "two", SenderAgent))
	if calls != 2 {
		t.Errorf("callback invoked %d times, want 2", calls)
	}

	r.RemoveNewMessageCallback()
	source.handler(msgEntry("m3", "2026-08-01T10:00:02Z", "three", SenderAgent))
	if calls != 2 {
		t.Errorf("callback invoked %d times after removal, want 2", calls)
	}
}

func TestLoadOlder_Prepends(t *testing.T) {
	initial := []Entry{msgEntry("e3", "2026-08-01T10:02:00Z", "newest", SenderUser)}
	older := []Entry{
		msgEntry("e1", "2026-08-01T10:00:00Z", "first", SenderUser),
		msgEntry("e2", "2026-08-01T10:01:00Z", "second", SenderAgent),
	}
	pager := &fakePager{pages: map[string]CursorPage{
		"2026-08-01T10:02:00Z": {Data: older, HasMore: true},
	}}
	r, _ := newTestReconciler(t, initial, 3, pager)

	r.LoadOlder(context.Background())

	entries := r.Entries()
	wantOrder := []string{"e1", "e2", "e3"}
	if len(entries) != len(wantOrder) {
		t.Fatalf("Len() = %d, want %d", len(entries), len(wantOrder))
	}
	for i, want := range wantOrder {
		if entries[i].ID != want {
			t.Errorf("entries[%d].ID = %q, want %q", i, entries[i].ID, want)
		}
	}
	if got := r.OldestCursor(); got != "2026-08-01T10:00:00Z" {
		t.Errorf("OldestCursor() = %q, want new oldest", got)
	}
	if !r.HasMoreOlder() {
		t.Error("HasMoreOlder() = false, want true (server said more)")
	}
	if pager.lastReq.cursor != "2026-08-01T10:02:00Z" {
		t.Errorf("pager cursor = %q, want previous oldest", pager.lastReq.cursor)
	}
	if pager.lastReq.limit != DefaultPageSize {
		t.Errorf("pager limit = %d, want %d", pager.lastReq.limit, DefaultPageSize)
	}
}

func TestLoadOlder_EmptyPageExhausts(t *testing.T) {
	initial := []Entry{msgEntry("e1", "2026-08-01T10:00:00Z", "only", SenderUser)}
	pager := &fakePager{pages: map[string]CursorPage{}}
	r, _ := newTestReconciler(t, initial, 1, pager)

	r.LoadOlder(context.Background())
	if r.HasMoreOlder() {
		t.Error("HasMoreOlder() = true after empty page")
	}

	// Exhaustion is terminal: further loads never hit the pager again.
	r.LoadOlder(context.Background())
	r.LoadOlder(context.Background())
	if pager.calls != 1 {
		t.Errorf("pager called %d times, want 1", pager.calls)
	}
}

func TestLoadOlder_ErrorLeavesStateUnchanged(t *testing.T) {
	initial := []Entry{msgEntry("e2", "2026-08-01T10:01:00Z", "newest", SenderUser)}
	pager := &fakePager{err: errors.New("boom")}
	r, _ := newTestReconciler(t, initial, 2, pager)

	r.LoadOlder(context.Background())

	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
	if got := r.OldestCursor(); got != "2026-08-01T10:01:00Z" {
		t.Errorf("OldestCursor() = %q, want unchanged", got)
	}
	if !r.HasMoreOlder() {
		t.Error("HasMoreOlder() = false after error, want true")
	}
	if r.IsLoadingOlder() {
		t.Error("IsLoadingOlder() = true after failed load")
	}

	// The next call retries.
	pager.mu.Lock()
	pager.err = nil
	pager.pages = map[string]CursorPage{
		"2026-08-01T10:01:00Z": {Data: []Entry{msgEntry("e1", "2026-08-01T10:00:00Z", "older", SenderUser)}, HasMore: false},
	}
	pager.mu.Unlock()

	r.LoadOlder(context.Background())
	if r.Len() != 2 {
		t.Errorf("Len() = %d after retry, want 2", r.Len())
	}
}

func TestLoadOlder_SingleFlight(t *testing.T) {
	initial := []Entry{msgEntry("e2", "2026-08-01T10:01:00Z", "newest", SenderUser)}
	pager := &fakePager{
		pages: map[string]CursorPage{
			"2026-08-01T10:01:00Z": {Data: []Entry{msgEntry("e1", "2026-08-01T10:00:00Z", "older", SenderUser)}, HasMore: false},
		},
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	r, _ := newTestReconciler(t, initial, 2, pager)

	done := make(chan struct{})
	go func() {
		r.LoadOlder(context.Background())
		close(done)
	}()

	// Wait until the first load is inside the pager, then try again.
	<-pager.entered
	if !r.IsLoadingOlder() {
		t.Error("IsLoadingOlder() = false while load in flight")
	}
	r.LoadOlder(context.Background())

	close(pager.block)
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for in-flight load")
	}

	pager.mu.Lock()
	calls := pager.calls
	pager.mu.Unlock()
	if calls != 1 {
		t.Errorf("pager called %d times, want 1 (second call must coalesce)", calls)
	}
}

func TestLoadOlder_LiveEntriesDuringLoad(t *testing.T) {
	initial := []Entry{msgEntry("e2", "2026-08-01T10:01:00Z", "newest", SenderUser)}
	pager := &fakePager{
		pages: map[string]CursorPage{
			"2026-08-01T10:01:00Z": {Data: []Entry{msgEntry("e1", "2026-08-01T10:00:00Z", "older", SenderUser)}, HasMore: false},
		},
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	r, source := newTestReconciler(t, initial, 2, pager)

	done := make(chan struct{})
	go func() {
		r.LoadOlder(context.Background())
		close(done)
	}()

	// A live entry arrives while the backward load is in flight.
	<-pager.entered
	source.handler(msgEntry("e3", "2026-08-01T10:02:00Z", "live", SenderAgent))
	close(pager.block)
	<-done

	entries := r.Entries()
	wantOrder := []string{"e1", "e2", "e3"}
	if len(entries) != len(wantOrder) {
		t.Fatalf("Len() = %d, want %d", len(entries), len(wantOrder))
	}
	for i, want := range wantOrder {
		if entries[i].ID != want {
			t.Errorf("entries[%d].ID = %q, want %q", i, entries[i].ID, want)
		}
	}
}

func TestLoadOlder_CustomPageSize(t *testing.T) {
	initial := []Entry{msgEntry("e1", "2026-08-01T10:00:00Z", "x", SenderUser)}
	pager := &fakePager{pages: map[string]CursorPage{}}
	r, _ := newTestReconciler(t, initial, 1, pager, WithPageSize(7))

	r.LoadOlder(context.Background())
	if pager.lastReq.limit != 7 {
		t.Errorf("pager limit = %d, want 7", pager.lastReq.limit)
	}
}

func TestReconciler_ConcurrentAccess(t *testing.T) {
	pager := &fakePager{pages: map[string]CursorPage{}}
	r, source := newTestReconciler(t, nil, 0, pager)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				source.handler(msgEntry(fmt.Sprintf("e-%d-%d", n, j), "2026-08-01T10:00:00Z", "m", SenderAgent))
				r.Entries()
				r.LastAcknowledgement()
				r.LoadOlder(context.Background())
			}
		}(i)
	}
	wg.Wait()

	if r.Len() != 8*50 {
		t.Errorf("Len() = %d, want %d", r.Len(), 8*50)
	}
}
