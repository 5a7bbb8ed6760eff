package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Envelope is a queued contract notice plus its delivery progress.
type Envelope struct {
	Notice    ContractNotice  `json:"notice"`
	Attempts  int             `json:"attempts"`
	Delivered map[string]bool `json:"delivered,omitempty"`
	LastError string          `json:"last_error,omitempty"`
}

// Queue is a FIFO of envelopes with a dead-letter list.
type Queue interface {
	Push(ctx context.Context, env Envelope) error
	// Pop returns ok=false when the queue is empty.
	Pop(ctx context.Context) (env Envelope, ok bool, err error)
	DeadLetter(ctx context.Context, env Envelope) error
}

// MemoryQueue is an in-process Queue used in development and tests.
type MemoryQueue struct {
	mu    sync.Mutex
	items []Envelope
	dead  []Envelope
}

// NewMemoryQueue constructs an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Push(_ context.Context, env Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, env)
	return nil
}

func (q *MemoryQueue) Pop(_ context.Context) (Envelope, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Envelope{}, false, nil
	}
	env := q.items[0]
	q.items = q.items[1:]
	return env, true, nil
}

func (q *MemoryQueue) DeadLetter(_ context.Context, env Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, env)
	return nil
}

// Len returns the number of pending and dead-lettered envelopes.
func (q *MemoryQueue) Len() (pending, dead int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), len(q.dead)
}

const (
	redisOutboxKey     = "outbox:v1:contracts"
	redisDeadLetterKey = "outbox:v1:contracts:dead"
)

// RedisQueue stores envelopes in a Redis list so every API instance and the
// worker share one outbox.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue wraps a Redis client.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Push(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return q.client.RPush(ctx, redisOutboxKey, payload).Err()
}

func (q *RedisQueue) Pop(ctx context.Context) (Envelope, bool, error) {
	raw, err := q.client.LPop(ctx, redisOutboxKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return Envelope{}, false, nil
	}
	if err != nil {
		return Envelope{}, false, err
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, false, fmt.Errorf("decode outbox entry: %w", err)
	}
	return env, true, nil
}

func (q *RedisQueue) DeadLetter(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return q.client.RPush(ctx, redisDeadLetterKey, payload).Err()
}

// Outbox queues contract notices after a loan is funded and delivers them
// later. Delivery failures never reach the funding saga.
type Outbox struct {
	queue       Queue
	notifier    Notifier
	logger      *slog.Logger
	maxAttempts int
}

// NewOutbox wires a queue to a notifier. maxAttempts below one means one.
func NewOutbox(queue Queue, notifier Notifier, logger *slog.Logger, maxAttempts int) *Outbox {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Outbox{queue: queue, notifier: notifier, logger: logger, maxAttempts: maxAttempts}
}

// Enqueue schedules a contract notice.
func (o *Outbox) Enqueue(ctx context.Context, notice ContractNotice) error {
	if err := o.queue.Push(ctx, Envelope{Notice: notice}); err != nil {
		return fmt.Errorf("enqueue contract notice %s: %w", notice.ContractID, err)
	}
	return nil
}

// Drain delivers up to limit queued notices and returns how many were fully
// delivered. Envelopes that fail are re-queued until maxAttempts, then
// dead-lettered.
func (o *Outbox) Drain(ctx context.Context, limit int) (int, error) {
	delivered := 0
	for i := 0; limit <= 0 || i < limit; i++ {
		env, ok, err := o.queue.Pop(ctx)
		if err != nil {
			return delivered, err
		}
		if !ok {
			break
		}
		if err := o.deliver(ctx, &env); err != nil {
			env.Attempts++
			env.LastError = err.Error()
			if env.Attempts >= o.maxAttempts {
				o.logger.Error("contract notice dead-lettered",
					slog.String("contract_id", env.Notice.ContractID),
					slog.Int("attempts", env.Attempts),
					slog.Any("error", err),
				)
				if dlErr := o.queue.DeadLetter(ctx, env); dlErr != nil {
					return delivered, dlErr
				}
				continue
			}
			o.logger.Warn("contract notice delivery failed, will retry",
				slog.String("contract_id", env.Notice.ContractID),
				slog.Int("attempts", env.Attempts),
				slog.Any("error", err),
			)
			if pushErr := o.queue.Push(ctx, env); pushErr != nil {
				return delivered, pushErr
			}
			// A failed envelope goes to the back; stop so one drain pass does
			// not spin on it.
			break
		}
		delivered++
	}
	return delivered, nil
}

func (o *Outbox) deliver(ctx context.Context, env *Envelope) error {
	body, err := RenderContract(env.Notice)
	if err != nil {
		return err
	}
	if env.Delivered == nil {
		env.Delivered = make(map[string]bool)
	}
	var errs []error
	for _, addr := range env.Notice.Recipients() {
		if env.Delivered[addr] {
			continue
		}
		err := o.notifier.Send(ctx, Message{
			Kind:        KindContractIssued,
			Destination: addr,
			Subject:     "Loan contract " + env.Notice.ContractID,
			Body:        body,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		env.Delivered[addr] = true
	}
	return errors.Join(errs...)
}
