package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"promptcraft/internal/session"
)

const (
	eventBuffer   = 64
	keepAliveTick = 15 * time.Second
)

// Events streams session events as server-sent events. The stream opens
// with a snapshot and ends with a closed event when the session is closed;
// slow readers lose events rather than stall the session.
func (a *App) Events(w http.ResponseWriter, r *http.Request) {
	o, ok := a.session(w, r)
	if !ok {
		return
	}
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	ch := make(chan session.Event, eventBuffer)
	var dropped atomic.Int64
	cancel := o.Subscribe(func(ev session.Event) {
		select {
		case ch <- ev:
		default:
			dropped.Add(1)
		}
	})
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "snapshot", o.Snapshot()); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		a.Logger.Debug().Err(err).Msg("http: event stream not flushable")
		return
	}

	ping := time.NewTicker(keepAliveTick)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			if n := dropped.Load(); n > 0 {
				a.Logger.Debug().Str("session", o.ID()).Int64("dropped", n).Msg("http: slow event reader")
			}
			return
		case <-o.Done():
			_ = writeEvent(w, "closed", map[string]string{"session_id": o.ID()})
			_ = rc.Flush()
			return
		case ev := <-ch:
			if err := writeEvent(w, string(ev.Type), ev); err != nil {
				return
			}
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
