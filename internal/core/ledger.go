package core

import "time"

// UnavailableContent is rendered for a reply whose target cannot be resolved.
const UnavailableContent = "message unavailable"

// ReplySource tells where a resolved reply context came from.
type ReplySource int

const (
	ReplyNone ReplySource = iota
	ReplyFromLedger
	ReplyFromSnapshot
	ReplyUnavailable
)

// ReplyContext is what a view renders above a reply.
type ReplyContext struct {
	ID          string
	Content     string
	SenderAlias string
	Timestamp   time.Time
	Source      ReplySource
}

// Ledger is an append-only, id-deduplicated sequence of chat messages in arrival order.
// A positive maxMessages bounds the display window; evicted ids stay in the dedup index.
// It is not safe for concurrent use.
type Ledger struct {
	messages    []ChatMessage
	byID        map[string]int
	seen        map[string]struct{}
	offset      int
	maxMessages int
}

// NewLedger builds a ledger. maxMessages <= 0 means unbounded.
func NewLedger(maxMessages int) *Ledger {
	if maxMessages < 0 {
		maxMessages = 0
	}
	return &Ledger{
		byID:        make(map[string]int),
		seen:        make(map[string]struct{}),
		maxMessages: maxMessages,
	}
}

// AppendOrDedup appends m to the tail unless its id was already seen. Returns true if appended.
func (l *Ledger) AppendOrDedup(m ChatMessage) bool {
	if m.ID == "" {
		return false
	}
	if _, dup := l.seen[m.ID]; dup {
		return false
	}
	l.seen[m.ID] = struct{}{}
	l.byID[m.ID] = l.offset + len(l.messages)
	l.messages = append(l.messages, m)
	l.trim()
	return true
}

// Seed appends a batch (cache snapshot or relay history) with the same dedup rules.
// Returns the number of messages appended.
func (l *Ledger) Seed(msgs []ChatMessage) int {
	added := 0
	for _, m := range msgs {
		if l.AppendOrDedup(m) {
			added++
		}
	}
	return added
}

// Get looks up a message still inside the window.
func (l *Ledger) Get(id string) (ChatMessage, bool) {
	pos, ok := l.byID[id]
	if !ok {
		return ChatMessage{}, false
	}
	return l.messages[pos-l.offset], true
}

// Seen reports whether id was ever appended during this session.
func (l *Ledger) Seen(id string) bool {
	_, ok := l.seen[id]
	return ok
}

// ResolveReply resolves the reply context of m. The ledger copy wins, then the embedded
// snapshot, then a placeholder. It never fails.
func (l *Ledger) ResolveReply(m ChatMessage) ReplyContext {
	if m.ReplyTo == "" {
		return ReplyContext{Source: ReplyNone}
	}
	if orig, ok := l.Get(m.ReplyTo); ok {
		return ReplyContext{
			ID:          orig.ID,
			Content:     orig.Content,
			SenderAlias: orig.SenderAlias,
			Timestamp:   orig.Timestamp,
			Source:      ReplyFromLedger,
		}
	}
	if snap := m.ReplyToMessage; snap != nil {
		return ReplyContext{
			ID:          m.ReplyTo,
			Content:     snap.Content,
			SenderAlias: snap.SenderAlias,
			Timestamp:   snap.Timestamp,
			Source:      ReplyFromSnapshot,
		}
	}
	return ReplyContext{ID: m.ReplyTo, Content: UnavailableContent, Source: ReplyUnavailable}
}

// Messages returns a copy of the window in arrival order.
func (l *Ledger) Messages() []ChatMessage {
	out := make([]ChatMessage, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the number of messages in the window.
func (l *Ledger) Len() int {
	return len(l.messages)
}

func (l *Ledger) trim() {
	if l.maxMessages == 0 || len(l.messages) <= l.maxMessages {
		return
	}
	drop := len(l.messages) - l.maxMessages
	for _, m := range l.messages[:drop] {
		delete(l.byID, m.ID)
	}
	l.messages = append([]ChatMessage(nil), l.messages[drop:]...)
	l.offset += drop
}
