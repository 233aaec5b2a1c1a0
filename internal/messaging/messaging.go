// Package messaging is a best-effort fan-out broadcast: every subscriber of a
// topic, in every process, receives each cast at most once. There is no
// acknowledgement and no replay.
package messaging

import (
	"context"
	"errors"
)

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

var (
	ErrClosed       = errors.New("broadcaster_closed")
	ErrInvalidTopic = errors.New("invalid_topic")
)

type Message struct {
	Operation string `json:"operation"`
	Name      string `json:"name,omitempty"`
}

type Handler func(ctx context.Context, msg Message)

type Subscription interface {
	Close() error
}

type Broadcaster interface {
	Cast(ctx context.Context, topic string, msg Message) error
	Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error)
	Close() error
}
