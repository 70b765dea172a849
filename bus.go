package hybridkv

import (
	"strings"
	"sync"
	"time"
)

// ChangeKind discriminates a ChangeEvent's cause.
type ChangeKind int

const (
	ChangePut ChangeKind = iota
	ChangeDelete
)

// ChangeEvent is published after a Put or Delete has been locally
// acknowledged (spec section 3, CacheEntry/ChangeEvent; section 4.H).
// Value is nil for a Delete.
type ChangeEvent struct {
	Kind  ChangeKind
	Key   []byte
	Value []byte
	TsMs  int64
}

const subscriberBufferSize = 64

// ChangeBus fans ChangeEvents out to a broadcast subscriber and to any
// number of pattern-filtered subscribers (spec section 4.H). Delivery
// is best-effort: a full subscriber channel drops the event rather
// than blocking the writer (spec section 5, "change-bus emits are
// non-blocking"). No pack dependency models this narrow a broadcast +
// glob-subscription primitive, so it stays stdlib-only (see
// DESIGN.md).
type ChangeBus struct {
	mu          sync.Mutex
	broadcast   []chan ChangeEvent
	patterns    map[string][]chan ChangeEvent
	closed      bool
}

// NewChangeBus constructs an empty bus.
func NewChangeBus() *ChangeBus {
	return &ChangeBus{patterns: make(map[string][]chan ChangeEvent)}
}

// Emit pushes event to every broadcast subscriber and to every pattern
// subscriber whose pattern matches event.Key. Never blocks.
func (b *ChangeBus) Emit(event ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.broadcast {
		nonBlockingSend(ch, event)
	}
	for pattern, subs := range b.patterns {
		if matchesPattern(string(event.Key), pattern) {
			for _, ch := range subs {
				nonBlockingSend(ch, event)
			}
		}
	}
}

func nonBlockingSend(ch chan ChangeEvent, event ChangeEvent) {
	select {
	case ch <- event:
	default:
		// Slow subscriber: drop rather than block the writer.
	}
}

// matchesPattern implements spec section 4.H's rule: a trailing "*"
// matches any key with that prefix; any other pattern matches only an
// exact key.
func matchesPattern(key, pattern string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(key, pattern[:len(pattern)-1])
	}
	return key == pattern
}

// SubscribeAll returns a receive-only channel of every ChangeEvent.
func (b *ChangeBus) SubscribeAll() <-chan ChangeEvent {
	ch := make(chan ChangeEvent, subscriberBufferSize)
	b.mu.Lock()
	b.broadcast = append(b.broadcast, ch)
	b.mu.Unlock()
	return ch
}

// SubscribePattern returns a receive-only channel of ChangeEvents whose
// key matches pattern (a literal key, or a prefix followed by "*").
func (b *ChangeBus) SubscribePattern(pattern string) <-chan ChangeEvent {
	ch := make(chan ChangeEvent, subscriberBufferSize)
	b.mu.Lock()
	b.patterns[pattern] = append(b.patterns[pattern], ch)
	b.mu.Unlock()
	return ch
}

// Close closes every subscriber channel and stops accepting new
// emits. Subsequent Emit calls are no-ops.
func (b *ChangeBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.broadcast {
		close(ch)
	}
	for _, subs := range b.patterns {
		for _, ch := range subs {
			close(ch)
		}
	}
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
