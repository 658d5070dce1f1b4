package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Publisher enqueues messages for the workers.
type Publisher interface {
	Publish(ctx context.Context, msg *Message) error
}

// Config tunes workers and retries.
type Config struct {
	Workers       int
	RetryLimit    int           // attempts after the first one
	RetryDelay    time.Duration // first retry wait, doubled per attempt
	MaxRetryDelay time.Duration
	PollTimeout   time.Duration // how long a worker blocks waiting for work
}

func (c *Config) normalize() {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 10 * time.Second
	}
	if c.MaxRetryDelay < c.RetryDelay {
		c.MaxRetryDelay = 10 * c.RetryDelay
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = time.Second
	}
}

// Message is the envelope stored in Redis.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`
	FailedAt   *time.Time      `json:"failed_at,omitempty"`
}

// NewMessage encodes payload into a message with a fresh id.
func NewMessage(msgType string, payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	return &Message{
		ID:         uuid.NewString(),
		Type:       msgType,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload of msg. A payload that does not decode is a
// permanent failure.
func Decode[T any](msg *Message) (*T, error) {
	if msg == nil || len(msg.Payload) == 0 {
		return nil, Permanent(fmt.Errorf("empty payload"))
	}
	var out T
	if err := json.Unmarshal(msg.Payload, &out); err != nil {
		return nil, Permanent(fmt.Errorf("decode %s payload: %w", msg.Type, err))
	}
	return &out, nil
}

// retryDelay is the wait before attempt n+1 (n >= 1).
func retryDelay(cfg Config, attempts int) time.Duration {
	d := cfg.RetryDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= cfg.MaxRetryDelay {
			return cfg.MaxRetryDelay
		}
	}
	return d
}

type outcome int

const (
	outcomeDone outcome = iota
	outcomeRetry
	outcomeDead
)

// settle records a handler error on msg and decides where it goes next.
// For outcomeRetry the returned time is when the message becomes due again.
func settle(cfg Config, msg *Message, err error, now time.Time) (outcome, time.Time) {
	if err == nil {
		return outcomeDone, time.Time{}
	}
	msg.Attempts++
	msg.LastError = err.Error()
	if IsPermanent(err) || msg.Attempts > cfg.RetryLimit {
		failed := now.UTC()
		msg.FailedAt = &failed
		return outcomeDead, time.Time{}
	}
	return outcomeRetry, now.Add(retryDelay(cfg, msg.Attempts))
}
