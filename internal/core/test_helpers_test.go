package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeTransport struct {
	mu       sync.Mutex
	handlers map[EventKind]map[int]func(Event)
	nextID   int
	sent     []Command
	sendErr  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[EventKind]map[int]func(Event))}
}

func (f *fakeTransport) Subscribe(kind EventKind, handler func(Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers[kind] == nil {
		f.handlers[kind] = make(map[int]func(Event))
	}
	id := f.nextID
	f.nextID++
	f.handlers[kind][id] = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers[kind], id)
	}
}

func (f *fakeTransport) Send(_ context.Context, cmd Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeTransport) emit(ev Event) {
	f.mu.Lock()
	var hs []func(Event)
	for _, h := range f.handlers[ev.Kind] {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (f *fakeTransport) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, hs := range f.handlers {
		n += len(hs)
	}
	return n
}

func (f *fakeTransport) sentCommands() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Command, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) failWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

type fakeAudio struct {
	mu     sync.Mutex
	closed int
}

func (a *fakeAudio) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed++
	return nil
}

func (a *fakeAudio) closeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

type fakeFallback struct {
	mu    sync.Mutex
	calls []ModerationAction
	err   error
}

func (f *fakeFallback) Moderate(_ context.Context, _ string, action ModerationAction, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, action)
	return f.err
}

type memoryCache struct {
	mu    sync.Mutex
	data  map[string][]ChatMessage
	saves int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]ChatMessage)}
}

func (c *memoryCache) Load(_ context.Context, sessionID string) ([]ChatMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChatMessage(nil), c.data[sessionID]...), nil
}

func (c *memoryCache) Save(_ context.Context, sessionID string, msgs []ChatMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[sessionID] = msgs
	c.saves++
	return nil
}

func (c *memoryCache) stored(sessionID string) []ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[sessionID]
}

type runningSession struct {
	*Session
	transport *fakeTransport
	cancel    context.CancelFunc
	errCh     chan error
}

func startSession(t *testing.T, self Participant, opts ...Option) *runningSession {
	t.Helper()

	tr := newFakeTransport()
	s := NewSession(SessionConfig{SessionID: "S", Self: self}, tr, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	t.Cleanup(cancel)

	rs := &runningSession{Session: s, transport: tr, cancel: cancel, errCh: errCh}
	waitFor(t, "subscriptions", func() bool { return tr.subscriptions() == len(AllEventKinds()) })
	return rs
}

func (rs *runningSession) waitExit(t *testing.T) error {
	t.Helper()
	select {
	case err := <-rs.errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not exit")
		return nil
	}
}

func (rs *runningSession) view(t *testing.T) View {
	t.Helper()
	v, err := rs.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return v
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func mustNotice(t *testing.T, ch <-chan Notice, kind NoticeKind) Notice {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case n, ok := <-ch:
			if !ok {
				t.Fatalf("notices closed before kind %v", kind)
			}
			if n.Kind == kind {
				return n
			}
		case <-deadline:
			t.Fatalf("expected notice kind %v not received", kind)
			return Notice{}
		}
	}
}

func participant(id string) Participant {
	return Participant{ID: id, Alias: id, ConnectionStatus: StatusConnected}
}

func host(id string) Participant {
	p := participant(id)
	p.IsHost = true
	return p
}

func joinEvent(p Participant) Event {
	return Event{Kind: EventParticipantJoined, SessionID: "S", ParticipantID: p.ID, Participant: &p}
}

func textMessage(id, content string) ChatMessage {
	return ChatMessage{ID: id, SenderAlias: "alice", Content: content, Type: MessageText, Timestamp: time.Unix(1700000000, 0)}
}
