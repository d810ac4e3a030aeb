package queue

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

type memoryEntry struct {
	id           string
	body         []byte
	sentAt       time.Time
	visibleAt    time.Time
	receiveCount int
	receipt      string
	cause        string
}

// MemoryQueue keeps messages in process. It is used by tests and by single
// process deployments that accept losing in-flight envelopes on restart.
type MemoryQueue struct {
	config Config
	clock  clockwork.Clock

	mu       sync.Mutex
	entries  map[string]*memoryEntry
	receipts map[string]string
	dead     map[string]*DeadLetter
	notify   chan struct{}
	closed   bool
}

var _ Queue = (*MemoryQueue)(nil)

func NewMemoryQueue(config Config, clock clockwork.Clock) *MemoryQueue {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &MemoryQueue{
		config:   config.withDefaults(),
		clock:    clock,
		entries:  make(map[string]*memoryEntry),
		receipts: make(map[string]string),
		dead:     make(map[string]*DeadLetter),
		notify:   make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) Send(_ context.Context, body []byte) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", ErrClosed
	}

	now := q.clock.Now()
	entry := &memoryEntry{
		id:        uuid.NewString(),
		body:      slices.Clone(body),
		sentAt:    now,
		visibleAt: now.Add(q.config.DeliveryDelay),
	}

	q.entries[entry.id] = entry
	q.signal()

	return entry.id, nil
}

func (q *MemoryQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	if max <= 0 {
		max = q.config.BatchSize
	}

	deadline := q.clock.Now().Add(wait)

	for {
		messages, err := q.receive(max)
		if err != nil || len(messages) > 0 {
			return messages, err
		}

		remaining := deadline.Sub(q.clock.Now())
		if remaining <= 0 {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		case <-q.clock.After(min(remaining, pollInterval)):
		}
	}
}

func (q *MemoryQueue) receive(max int) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}

	now := q.clock.Now()
	q.purge(now)

	visible := make([]*memoryEntry, 0, len(q.entries))
	for _, entry := range q.entries {
		if !entry.visibleAt.After(now) {
			visible = append(visible, entry)
		}
	}

	slices.SortFunc(visible, func(a, b *memoryEntry) int {
		return a.visibleAt.Compare(b.visibleAt)
	})

	var messages []Message

	for _, entry := range visible {
		if len(messages) == max {
			break
		}

		if entry.receiveCount >= q.config.MaxReceiveCount {
			q.deadLetter(entry, now)

			continue
		}

		delete(q.receipts, entry.receipt)

		entry.receiveCount++
		entry.receipt = fmt.Sprintf("%s.%s", entry.id, uuid.NewString())
		entry.visibleAt = now.Add(q.config.VisibilityTimeout)
		q.receipts[entry.receipt] = entry.id

		messages = append(messages, Message{
			ID:           entry.id,
			Body:         slices.Clone(entry.body),
			Receipt:      entry.receipt,
			ReceiveCount: entry.receiveCount,
			SentAt:       entry.sentAt,
		})
	}

	return messages, nil
}

func (q *MemoryQueue) Ack(_ context.Context, receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, err := q.delivery(receipt)
	if err != nil {
		return err
	}

	delete(q.receipts, receipt)
	delete(q.entries, entry.id)

	return nil
}

func (q *MemoryQueue) Nack(_ context.Context, receipt, cause string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, err := q.delivery(receipt)
	if err != nil {
		return err
	}

	delete(q.receipts, receipt)

	entry.receipt = ""
	entry.cause = cause
	entry.visibleAt = q.clock.Now()
	q.signal()

	return nil
}

func (q *MemoryQueue) DeadLetters(_ context.Context, limit int) ([]DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.purge(q.clock.Now())

	letters := make([]DeadLetter, 0, len(q.dead))
	for _, letter := range q.dead {
		letters = append(letters, *letter)
	}

	slices.SortFunc(letters, func(a, b DeadLetter) int {
		return a.DeadLetteredAt.Compare(b.DeadLetteredAt)
	})

	if limit > 0 && len(letters) > limit {
		letters = letters[:limit]
	}

	return letters, nil
}

func (q *MemoryQueue) Redrive(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	letter, ok := q.dead[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeadLetterNotFound, id)
	}

	delete(q.dead, id)

	now := q.clock.Now()
	q.entries[id] = &memoryEntry{
		id:        id,
		body:      letter.Body,
		sentAt:    now,
		visibleAt: now,
	}
	q.signal()

	return nil
}

func (q *MemoryQueue) Stats(_ context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	q.purge(now)

	stats := Stats{DeadLetters: len(q.dead)}

	for _, entry := range q.entries {
		if entry.visibleAt.After(now) {
			stats.NotVisible++
		} else {
			stats.Visible++
		}
	}

	return stats, nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true

	return nil
}

func (q *MemoryQueue) delivery(receipt string) (*memoryEntry, error) {
	id, ok := q.receipts[receipt]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrReceiptInvalid, receipt)
	}

	entry, ok := q.entries[id]
	if !ok || entry.receipt != receipt {
		return nil, fmt.Errorf("%w: %s", ErrReceiptInvalid, receipt)
	}

	return entry, nil
}

func (q *MemoryQueue) deadLetter(entry *memoryEntry, now time.Time) {
	cause := entry.cause
	if cause == "" {
		cause = CauseMaxReceive
	}

	delete(q.entries, entry.id)
	delete(q.receipts, entry.receipt)

	q.dead[entry.id] = &DeadLetter{
		ID:             entry.id,
		Body:           entry.body,
		ReceiveCount:   entry.receiveCount,
		Cause:          cause,
		SentAt:         entry.sentAt,
		DeadLetteredAt: now,
	}
}

// purge drops messages and dead letters past their retention period.
func (q *MemoryQueue) purge(now time.Time) {
	for id, entry := range q.entries {
		if !now.Before(entry.sentAt.Add(q.config.Retention)) {
			delete(q.entries, id)
			delete(q.receipts, entry.receipt)
		}
	}

	for id, letter := range q.dead {
		if !now.Before(letter.DeadLetteredAt.Add(q.config.DeadLetterRetention)) {
			delete(q.dead, id)
		}
	}
}

func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
