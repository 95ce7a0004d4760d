package session

import (
	"context"
	"sync"

	"github.com/satriahrh/kanal/server/domain"
	"github.com/satriahrh/kanal/server/domain/entities"
)

type queueItem struct {
	ctx context.Context
	msg domain.Message
}

// ChannelQueue is a FIFO of inbound requests for one channel with a single-flight
// processing flag: at most one handler runs per channel at any time.
type ChannelQueue struct {
	channel entities.ChannelNo
	run     func(ctx context.Context, msg domain.Message)

	mu         sync.Mutex
	items      []queueItem
	processing bool
}

// NewChannelQueue creates an idle queue that hands messages to run one at a time.
func NewChannelQueue(ch entities.ChannelNo, run func(ctx context.Context, msg domain.Message)) *ChannelQueue {
	return &ChannelQueue{channel: ch, run: run}
}

// Enqueue appends msg and starts a worker when the channel is idle. It reports
// whether the message has to wait behind a handler that is already running.
func (q *ChannelQueue) Enqueue(ctx context.Context, msg domain.Message) bool {
	q.mu.Lock()
	q.items = append(q.items, queueItem{ctx: ctx, msg: msg})
	if q.processing {
		q.mu.Unlock()
		return true
	}
	q.processing = true
	q.mu.Unlock()

	go q.drain()
	return false
}

// drain pops and runs items until the queue is empty. Items whose context was
// cancelled are dropped without running.
func (q *ChannelQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.processing = false
			q.mu.Unlock()
			return
		}
		it := q.items[0]
		q.items[0] = queueItem{}
		q.items = q.items[1:]
		q.mu.Unlock()

		if it.ctx.Err() != nil {
			continue
		}
		q.run(it.ctx, it.msg)
	}
}

// Len returns the number of messages waiting, excluding the one being handled.
func (q *ChannelQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Processing reports whether a handler is running.
func (q *ChannelQueue) Processing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}
