// Package events publishes the domain events that leave the planner:
// plan ready, task completed, badge awarded and level up.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// Type names a domain event.
type Type string

const (
	PlanReady     Type = "plan_ready"
	TaskCompleted Type = "task_completed"
	BadgeAwarded  Type = "badge_awarded"
	LevelUp       Type = "level_up"
)

// Event is one domain event.
type Event struct {
	ID        string         `json:"id"`
	LearnerID string         `json:"learner_id"`
	Type      Type           `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// New builds an event with a fresh id and timestamp.
func New(learnerID string, t Type, data map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		LearnerID: learnerID,
		Type:      t,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}

func (e Event) validate() error {
	if e.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if e.LearnerID == "" {
		return fmt.Errorf("learner_id is required")
	}
	return nil
}

// Publisher delivers domain events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop ignores all events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error {
	return nil
}

// Memory stores events in memory for tests.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func NewMemory() *Memory {
	return &Memory{events: []Event{}}
}

func (m *Memory) Publish(_ context.Context, e Event) error {
	if err := e.validate(); err != nil {
		return err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	return nil
}

// Events returns a copy of everything published so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event{}, m.events...)
}

// OfType returns the published events of type t.
func (m *Memory) OfType(t Type) []Event {
	var out []Event
	for _, e := range m.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Postgres appends events to the events table.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Publish(ctx context.Context, e Event) error {
	if p == nil || p.pool == nil {
		return fmt.Errorf("event log pool is nil")
	}
	if err := e.validate(); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	payload := e.Data
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err = p.pool.Exec(ctx,
		`INSERT INTO events (id, learner_id, event_type, data, created_at)
		 VALUES ($1::uuid, $2, $3, $4::jsonb, $5)`,
		e.ID, e.LearnerID, string(e.Type), string(data), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	slog.Debug("event logged", "type", e.Type, "learner_id", e.LearnerID, "event_id", e.ID)
	return nil
}

// Fanout publishes to every publisher in order and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
