// Package audit records who did what to which articulation resource.
// Events are JSON lines on a configurable writer so operators can ship
// them to whatever log pipeline the campus runs.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType defines the category of the audit event.
type EventType string

const (
	EventAccess   EventType = "ACCESS"
	EventMutation EventType = "MUTATION"
	EventEvaluate EventType = "EVALUATE"
	EventSystem   EventType = "SYSTEM"
)

// Well-known actions recorded by the engine and its surfaces.
const (
	ActionRulesValidate  = "rules.validate"
	ActionVersionPublish = "version.publish"
	ActionEvaluate       = "student.evaluate"
)

// Event represents a structured audit record.
type Event struct {
	ID        string         `json:"id"`
	ActorID   string         `json:"actor_id"`
	Type      EventType      `json:"type"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Logger defines the interface for recording audit events.
type Logger interface {
	Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]any) error
}

type actorKey struct{}

// WithActor returns a context carrying the acting user's id. Records made
// without an actor are attributed to "system".
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

// ActorFrom extracts the actor id set by WithActor, or "system".
func ActorFrom(ctx context.Context) string {
	if id, ok := ctx.Value(actorKey{}).(string); ok && id != "" {
		return id
	}
	return "system"
}

type logger struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewLogger creates a Logger writing to os.Stdout.
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter creates a Logger writing to the given writer.
// This allows injection for testing and custom sinks.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &logger{writer: w}
}

func (l *logger) Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]any) error {
	event := Event{
		ID:        uuid.New().String(),
		ActorID:   ActorFrom(ctx),
		Type:      eventType,
		Action:    action,
		Resource:  resource,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	// Prefix with AUDIT: for easy filtering
	_, err = l.writer.Write(append([]byte("AUDIT: "), append(raw, '\n')...))
	return err
}

// Nop returns a Logger that discards every event. Useful for callers
// that do not care about auditing.
func Nop() Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) Record(context.Context, EventType, string, string, map[string]any) error {
	return nil
}
