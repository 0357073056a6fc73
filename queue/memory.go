package queue

import (
	"context"
	"sync"
	"time"

	"blafast-backend/models"
)

var _ Queue = (*Memory)(nil)

// Memory is a channel-backed Queue for tests and single-process runs. Ack is
// a no-op; delivery ids are synthetic.
type Memory struct {
	mu    sync.Mutex
	lanes map[models.Priority]chan Envelope
}

func NewMemory(buffer int) *Memory {
	m := &Memory{lanes: make(map[models.Priority]chan Envelope, len(Lanes))}
	for _, lane := range Lanes {
		m.lanes[lane] = make(chan Envelope, buffer)
	}
	return m
}

func (m *Memory) lane(p models.Priority) chan Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.lanes[p]; ok {
		return ch
	}
	return m.lanes[models.PriorityDefault]
}

func (m *Memory) Enqueue(ctx context.Context, lane models.Priority, env Envelope) error {
	select {
	case m.lane(lane) <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) EnqueueDelayed(ctx context.Context, lane models.Priority, env Envelope, runAt time.Time) error {
	delay := time.Until(runAt)
	if delay <= 0 {
		return m.Enqueue(ctx, lane, env)
	}
	time.AfterFunc(delay, func() {
		select {
		case m.lane(lane) <- env:
		default:
			// lane full; the reconciliation sweep will pick the record up
		}
	})
	return nil
}

func (m *Memory) Claim(ctx context.Context, lane models.Priority, consumer string, block time.Duration) (*Envelope, string, error) {
	timer := time.NewTimer(block)
	defer timer.Stop()
	select {
	case env := <-m.lane(lane):
		return &env, "mem", nil
	case <-timer.C:
		return nil, "", nil
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
}

func (m *Memory) Ack(ctx context.Context, lane models.Priority, deliveryID string) error {
	return nil
}
