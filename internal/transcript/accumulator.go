package transcript

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Entry struct {
	Seq  int
	Text string
	At   time.Time
}

// Accumulator is the append-only running transcript of one session. Each
// appended entry is fanned out to every subscriber.
type Accumulator struct {
	mu      sync.RWMutex
	entries []Entry
	size    int
	subs    map[chan Entry]struct{}
	missed  atomic.Uint64

	updatesOnce sync.Once
	updates     <-chan Entry
}

// NewAccumulator sets the default subscriber queue size.
func NewAccumulator(queueSize int) *Accumulator {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Accumulator{size: queueSize, subs: make(map[chan Entry]struct{})}
}

func (a *Accumulator) Append(text string) {
	if text == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	e := Entry{Seq: len(a.entries), Text: text, At: time.Now()}
	a.entries = append(a.entries, e)

	for ch := range a.subs {
		select {
		case ch <- e:
		default:
			a.missed.Add(1)
		}
	}
}

// Subscribe registers a consumer that receives entries appended from now
// on. Entries are skipped, not blocked on, when its queue is full. Cancel
// closes the channel.
func (a *Accumulator) Subscribe(queueSize int) (<-chan Entry, func()) {
	if queueSize <= 0 {
		queueSize = a.size
	}
	ch := make(chan Entry, queueSize)

	a.mu.Lock()
	a.subs[ch] = struct{}{}
	a.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subs, ch)
			close(ch)
			a.mu.Unlock()
		})
	}
}

// Updates is a shared subscription for UI consumers, created on first use
// and kept for the accumulator's lifetime.
func (a *Accumulator) Updates() <-chan Entry {
	a.updatesOnce.Do(func() {
		a.updates, _ = a.Subscribe(0)
	})
	return a.updates
}

func (a *Accumulator) Text() string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var b strings.Builder
	for _, e := range a.entries {
		b.WriteString(e.Text)
	}
	return b.String()
}

func (a *Accumulator) Entries() []Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Entry(nil), a.entries...)
}

func (a *Accumulator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

// Missed counts entries dropped across all subscribers.
func (a *Accumulator) Missed() uint64 {
	return a.missed.Load()
}
