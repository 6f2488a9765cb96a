// Package usage records completed session actions for reporting.
package usage

import (
	"context"
	"encoding/json"
	"time"

	"promptcraft/internal/infra"
	"promptcraft/internal/sqlinline"
)

// Event describes one finished orchestrator action.
type Event struct {
	SessionID  string
	Action     string
	Success    bool
	ErrorKind  string
	Latency    time.Duration
	Country    string
	Properties map[string]any
}

// Recorder persists usage events. Implementations must not block callers
// for long.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, Event) {}

// writeTimeout bounds each insert.
const writeTimeout = 2 * time.Second

// DBRecorder writes events to Postgres through the marker-checked runner.
type DBRecorder struct {
	runner *infra.SQLRunner
	logger *infra.Logger
}

func NewDBRecorder(runner *infra.SQLRunner, logger *infra.Logger) *DBRecorder {
	return &DBRecorder{runner: runner, logger: infra.Component(logger, "usage")}
}

// EnsureSchema creates the usage table if it does not exist.
func (r *DBRecorder) EnsureSchema(ctx context.Context) error {
	return r.runner.Exec(ctx, sqlinline.QCreateUsageEvents)
}

// Record inserts ev. Failures are logged and dropped; the caller's
// cancellation does not abort the write.
func (r *DBRecorder) Record(ctx context.Context, ev Event) {
	if ev.Country == "" {
		ev.Country = CountryFromContext(ctx)
	}
	props := []byte("{}")
	if len(ev.Properties) > 0 {
		if raw, err := json.Marshal(ev.Properties); err == nil {
			props = raw
		}
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	err := r.runner.Exec(ctx, sqlinline.QInsertUsageEvent,
		ev.SessionID,
		ev.Action,
		ev.Success,
		ev.ErrorKind,
		int(ev.Latency/time.Millisecond),
		ev.Country,
		string(props),
	)
	if err != nil {
		r.logger.Warn().Err(err).Str("session", ev.SessionID).Str("action", ev.Action).Msg("usage: record failed")
	}
}

var (
	_ Recorder = Nop{}
	_ Recorder = (*DBRecorder)(nil)
)
