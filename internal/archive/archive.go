// Package archive mirrors finished sessions and their task outcomes to a
// durable Supabase store. The mirror is best-effort: the authoritative state
// lives in the session store, and archive failures are logged by callers but
// never fail the orchestration loop.
package archive

import (
	"context"
	"time"

	"github.com/supabase-community/supabase-go"

	"github.com/forgehq/forge/internal/errors"
	"github.com/forgehq/forge/internal/session"
)

// Recorder persists session summaries and task outcomes.
type Recorder interface {
	// RecordSession upserts the session summary row.
	RecordSession(ctx context.Context, s *session.Session) error

	// RecordTasks upserts one row per task of the session.
	RecordTasks(ctx context.Context, s *session.Session) error

	// Close releases resources.
	Close() error
}

// SessionRow is the sessions table schema.
type SessionRow struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	ProjectID      string    `json:"project_id"`
	Status         string    `json:"status"`
	MessageCount   int       `json:"message_count"`
	TotalSteps     int       `json:"total_steps"`
	CompletedSteps int       `json:"completed_steps"`
	CreatedAt      time.Time `json:"created_at"`
	LastActive     time.Time `json:"last_active"`
	ArchivedAt     time.Time `json:"archived_at"`
}

// TaskRow is the session_tasks table schema.
type TaskRow struct {
	ID           string     `json:"id"`
	SessionID    string     `json:"session_id"`
	Phase        string     `json:"phase"`
	Description  string     `json:"description"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Config holds Supabase connection configuration.
type Config struct {
	URL    string
	APIKey string
}

// Client implements Recorder against Supabase.
type Client struct {
	client *supabase.Client
}

// New creates a Supabase-backed Recorder.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.NewValidationError("supabase URL is required").WithField("url")
	}
	if cfg.APIKey == "" {
		return nil, errors.NewValidationError("supabase API key is required").WithField("api_key")
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create supabase client")
	}
	return &Client{client: client}, nil
}

// RecordSession upserts the session summary row.
func (c *Client) RecordSession(ctx context.Context, s *session.Session) error {
	row := SessionRow{
		ID:             s.ID,
		UserID:         s.UserID,
		ProjectID:      s.ProjectID,
		Status:         string(s.Status),
		MessageCount:   s.MessageCount,
		TotalSteps:     s.TotalSteps,
		CompletedSteps: s.CompletedSteps,
		CreatedAt:      s.CreatedAt,
		LastActive:     s.LastActive,
		ArchivedAt:     time.Now().UTC(),
	}

	_, _, err := c.client.From("sessions").
		Insert(row, true, "id", "minimal", "").
		Execute()
	if err != nil {
		return errors.Wrap(err, "archive session")
	}
	return nil
}

// RecordTasks upserts one row per task.
func (c *Client) RecordTasks(ctx context.Context, s *session.Session) error {
	if len(s.Tasks) == 0 {
		return nil
	}

	rows := make([]TaskRow, 0, len(s.Tasks))
	for i := range s.Tasks {
		t := &s.Tasks[i]
		rows = append(rows, TaskRow{
			ID:           t.ID,
			SessionID:    s.ID,
			Phase:        string(t.Phase),
			Description:  t.Description,
			Status:       string(t.Status),
			Attempts:     t.Attempts,
			ErrorMessage: t.ErrorMessage,
			StartedAt:    t.StartedAt,
			CompletedAt:  t.CompletedAt,
		})
	}

	_, _, err := c.client.From("session_tasks").
		Insert(rows, true, "id", "minimal", "").
		Execute()
	if err != nil {
		return errors.Wrap(err, "archive tasks")
	}
	return nil
}

// Close releases resources. The Supabase client has nothing to close.
func (c *Client) Close() error { return nil }

// Compile-time check that Client implements Recorder.
var _ Recorder = (*Client)(nil)

// Nop is a Recorder that records nothing, for deployments without a durable
// archive configured.
type Nop struct{}

func (Nop) RecordSession(context.Context, *session.Session) error { return nil }
func (Nop) RecordTasks(context.Context, *session.Session) error   { return nil }
func (Nop) Close() error                                          { return nil }

var _ Recorder = Nop{}
