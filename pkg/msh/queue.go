package msh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirosfoundation/go-ebms/pkg/attachment"
	"github.com/sirosfoundation/go-ebms/pkg/message"
	"github.com/sirosfoundation/go-ebms/pkg/mime"
)

// ErrQueueClosed is returned by a closed queue
var ErrQueueClosed = errors.New("msh: pull queue closed")

// Queued is a prepared user message waiting to be pulled
type Queued struct {
	MessageID  string
	PModeID    string
	MPC        string
	Message    *mime.Message
	Resources  *attachment.ResourceManager
	EnqueuedAt time.Time
}

// PullQueue holds user messages per message partition channel until a
// pull request picks them up. Dequeue returns nil when the channel is empty.
type PullQueue interface {
	Enqueue(ctx context.Context, q *Queued) error
	Dequeue(ctx context.Context, mpc string) (*Queued, error)
}

// MemoryQueue is an in-process FIFO PullQueue
type MemoryQueue struct {
	mu     sync.Mutex
	queues map[string][]*Queued
	closed bool
}

// NewMemoryQueue creates an empty queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{queues: make(map[string][]*Queued)}
}

func normalizeMPC(mpc string) string {
	if mpc == "" {
		return message.DefaultMPC
	}
	return mpc
}

// Enqueue implements PullQueue
func (q *MemoryQueue) Enqueue(_ context.Context, item *Queued) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	mpc := normalizeMPC(item.MPC)
	q.queues[mpc] = append(q.queues[mpc], item)
	return nil
}

// Dequeue implements PullQueue
func (q *MemoryQueue) Dequeue(_ context.Context, mpc string) (*Queued, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	mpc = normalizeMPC(mpc)
	items := q.queues[mpc]
	if len(items) == 0 {
		return nil, nil
	}
	item := items[0]
	items[0] = nil
	q.queues[mpc] = items[1:]
	return item, nil
}

// Len returns the number of messages waiting on mpc
func (q *MemoryQueue) Len(mpc string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[normalizeMPC(mpc)])
}

// Close releases the resources of all waiting messages
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	queues := q.queues
	q.queues = nil
	q.mu.Unlock()

	var errs []error
	for _, items := range queues {
		for _, item := range items {
			if item.Resources != nil {
				errs = append(errs, item.Resources.Close()...)
			}
		}
	}
	return errors.Join(errs...)
}
