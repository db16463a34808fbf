// Package events fans out tray lifecycle events to subscribers.
package events

import (
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/Klingon-tech/klingnet-tray/internal/log"
	"github.com/Klingon-tech/klingnet-tray/internal/wallet"
	"github.com/Klingon-tech/klingnet-tray/pkg/kin"
)

// Kind identifies a lifecycle event.
type Kind uint8

const (
	MigrationStarted Kind = iota + 1
	MigrationCompleted
	AccountsCreated
	FundsReceived
	TrayConsolidated
)

func (k Kind) String() string {
	switch k {
	case MigrationStarted:
		return "migration_started"
	case MigrationCompleted:
		return "migration_completed"
	case AccountsCreated:
		return "accounts_created"
	case FundsReceived:
		return "funds_received"
	case TrayConsolidated:
		return "tray_consolidated"
	default:
		return "unknown"
	}
}

// Event is one lifecycle notification.
type Event struct {
	Kind      Kind
	Time      time.Time
	Amount    kin.Quarks
	Accounts  []wallet.AccountKind
	Signature solana.Signature // zero for MigrationStarted
}

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 32

// Bus delivers every emitted event to each subscriber. Emit never blocks: a
// subscriber whose queue is full misses the event.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	buffer int
	closed bool
}

// NewBus creates a bus with the given per-subscriber buffer.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{subs: make(map[int]chan Event), buffer: buffer}
}

// Emit publishes e. A zero Time is set to now.
func (b *Bus) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			log.Session.Warn().
				Int("subscriber", id).
				Str("event", e.Kind.String()).
				Msg("Event dropped, subscriber queue full")
		}
	}
}

// Subscribe returns a channel of events and a function that cancels the
// subscription and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Close closes every subscriber channel. Later emits are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
