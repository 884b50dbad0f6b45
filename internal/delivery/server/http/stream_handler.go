package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"conductor/internal/app/runs"
	"conductor/internal/domain/trace"
	jsonx "conductor/internal/shared/json"
	"conductor/internal/shared/logging"
)

const (
	heartbeatInterval = 30 * time.Second
	wsWriteTimeout    = 10 * time.Second
)

type streamHandler struct {
	runs     *runs.Service
	trace    Subscriber
	upgrader websocket.Upgrader
	logger   logging.Logger
}

func newStreamHandler(svc *runs.Service, sub Subscriber, logger logging.Logger) *streamHandler {
	return &streamHandler{
		runs:  svc,
		trace: sub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

func terminal(e trace.Event) bool {
	return e.EventName == trace.EventDirectiveCompleted || e.EventName == trace.EventDirectiveCancelled
}

// HandleRunEvents streams one run's trace events as server-sent events and
// ends after the run's terminal event.
func (h *streamHandler) HandleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	if h.trace == nil {
		http.Error(w, "trace streaming unavailable", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Subscribe before checking status so a run finishing in between is not missed.
	events, unsubscribe := h.trace.Subscribe("sse:" + runID)
	defer unsubscribe()

	rec, err := h.runs.Get(runID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, "connected", map[string]string{"runId": runID, "status": string(rec.Status)}); err != nil {
		return
	}
	flusher.Flush()
	if rec.Status != runs.StatusRunning {
		_ = writeSSE(w, "done", rec)
		flusher.Flush()
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.RunID != runID {
				continue
			}
			if err := writeSSE(w, e.EventName, e); err != nil {
				h.logger.Warn("sse write for run %s failed: %v", runID, err)
				return
			}
			flusher.Flush()
			if terminal(e) {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) error {
	data, err := jsonx.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// HandleTraceSocket pushes every trace event, optionally filtered by ?run=,
// over a websocket until the client disconnects.
func (h *streamHandler) HandleTraceSocket(w http.ResponseWriter, r *http.Request) {
	if h.trace == nil {
		http.Error(w, "trace streaming unavailable", http.StatusServiceUnavailable)
		return
	}
	runFilter := r.URL.Query().Get("run")
	events, unsubscribe := h.trace.Subscribe("ws:" + r.RemoteAddr)
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if runFilter != "" && e.RunID != runFilter {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(e); err != nil {
				h.logger.Debug("websocket write failed: %v", err)
				return
			}
		}
	}
}
