// Package queue is the durable queue that carries InvokeWithCallback envelopes
// to the step workers, with a dead-letter set for messages that failed.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrReceiptInvalid is returned when a receipt does not belong to the current delivery.
	ErrReceiptInvalid = errors.New("receipt handle is not valid")

	// ErrDeadLetterNotFound is returned by Redrive for an unknown dead letter.
	ErrDeadLetterNotFound = errors.New("dead letter not found")

	ErrClosed = errors.New("queue is closed")
)

const (
	DefaultVisibilityTimeout   = 100 * time.Minute
	DefaultDeliveryDelay       = 3 * time.Second
	DefaultRetention           = 5 * 24 * time.Hour
	DefaultDeadLetterRetention = 14 * 24 * time.Hour
	DefaultMaxReceiveCount     = 1
	DefaultBatchSize           = 10
	DefaultWaitTime            = 10 * time.Second

	// CauseMaxReceive is recorded when a message is dead-lettered without a nack cause.
	CauseMaxReceive = "maximum receive count exceeded"

	pollInterval = 200 * time.Millisecond
)

type Config struct {
	VisibilityTimeout   time.Duration
	DeliveryDelay       time.Duration
	Retention           time.Duration
	DeadLetterRetention time.Duration
	MaxReceiveCount     int
	BatchSize           int
	WaitTime            time.Duration
}

func DefaultConfig() Config {
	return Config{
		VisibilityTimeout:   DefaultVisibilityTimeout,
		DeliveryDelay:       DefaultDeliveryDelay,
		Retention:           DefaultRetention,
		DeadLetterRetention: DefaultDeadLetterRetention,
		MaxReceiveCount:     DefaultMaxReceiveCount,
		BatchSize:           DefaultBatchSize,
		WaitTime:            DefaultWaitTime,
	}
}

// withDefaults fills unset fields. A zero delivery delay is kept as configured.
func (c Config) withDefaults() Config {
	defaults := DefaultConfig()

	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = defaults.VisibilityTimeout
	}

	if c.Retention <= 0 {
		c.Retention = defaults.Retention
	}

	if c.DeadLetterRetention <= 0 {
		c.DeadLetterRetention = defaults.DeadLetterRetention
	}

	if c.MaxReceiveCount <= 0 {
		c.MaxReceiveCount = defaults.MaxReceiveCount
	}

	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}

	if c.WaitTime <= 0 {
		c.WaitTime = defaults.WaitTime
	}

	if c.DeliveryDelay < 0 {
		c.DeliveryDelay = 0
	}

	return c
}

// Message is one delivery. Receipt identifies this delivery only; a later
// delivery of the same message gets a new receipt.
type Message struct {
	ID           string    `json:"id"`
	Body         []byte    `json:"body"`
	Receipt      string    `json:"receipt"`
	ReceiveCount int       `json:"receive_count"`
	SentAt       time.Time `json:"sent_at"`
}

// DeadLetter is a message that was moved aside after reaching the maximum
// receive count.
type DeadLetter struct {
	ID             string    `json:"id"`
	Body           []byte    `json:"body"`
	ReceiveCount   int       `json:"receive_count"`
	Cause          string    `json:"cause"`
	SentAt         time.Time `json:"sent_at"`
	DeadLetteredAt time.Time `json:"dead_lettered_at"`
}

type Stats struct {
	Visible     int `json:"visible"`
	NotVisible  int `json:"not_visible"`
	DeadLetters int `json:"dead_letters"`
}

// Queue delivers each message at least once until it is acknowledged. A
// message whose receive count reached the maximum is dead-lettered on its
// next receive instead of being delivered again.
type Queue interface {
	Send(ctx context.Context, body []byte) (string, error)
	// Receive returns up to max messages, waiting up to wait for the first one.
	Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error)
	Ack(ctx context.Context, receipt string) error
	// Nack makes the message visible again and records cause for the dead-letter set.
	Nack(ctx context.Context, receipt, cause string) error
	DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error)
	// Redrive moves a dead letter back to the queue with a fresh receive count.
	Redrive(ctx context.Context, id string) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}
