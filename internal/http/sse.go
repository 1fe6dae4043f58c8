package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/curatord/internal/events"
)

// streamBuffer bounds how far a slow client may fall behind the phase loop
// before its stream is closed.
const streamBuffer = 256

// handleStream serves a session's events as server-sent events. Active
// sessions stream live until a terminal event; finished sessions replay the
// persisted log and close.
func (s *Server) handleStream(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	// Subscribe before checking status so no event falls between the two.
	ch := make(chan events.Event, streamBuffer)
	lagged := make(chan struct{})
	var lagOnce sync.Once
	unsubscribe := s.deps.Bus.On(id, func(e events.Event) {
		select {
		case ch <- e:
		default:
			lagOnce.Do(func() { close(lagged) })
		}
	})
	defer unsubscribe()

	snap, statusErr := s.deps.Sessions.Status(id)
	var replay []events.Event
	if statusErr != nil {
		if _, err := s.deps.History.GetSession(ctx, id); err != nil {
			return s.historyError(err)
		}
		evs, err := s.deps.History.ListEvents(ctx, id)
		if err != nil {
			return s.historyError(err)
		}
		replay = evs
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)

	s.metrics.streamOpened(c)
	defer s.metrics.streamClosed(c)

	if statusErr != nil {
		for _, e := range replay {
			if err := writeEvent(w, e); err != nil {
				return nil
			}
		}
		w.Flush()
		return nil
	}

	if err := writeSSE(w, "snapshot", fromSnapshot(snap)); err != nil {
		return nil
	}
	w.Flush()
	if snap.Session.Status.Terminal() {
		// Finished between subscribe and the status read.
		return nil
	}

	heartbeat := time.NewTicker(s.config.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-lagged:
			s.logger.Warn("event stream lagged, closing", zap.String("session_id", id))
			_ = writeSSE(w, "lagged", map[string]string{"session_id": id})
			w.Flush()
			return nil
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": heartbeat\n\n"); err != nil {
				return nil
			}
			w.Flush()
		case e := <-ch:
			if err := writeEvent(w, e); err != nil {
				return nil
			}
			w.Flush()
			if e.Type.Terminal() {
				return nil
			}
		}
	}
}

func writeEvent(w io.Writer, e events.Event) error {
	return writeSSE(w, string(e.Type), e)
}

func writeSSE(w io.Writer, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
