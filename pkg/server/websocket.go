package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nstogner/nbtool/pkg/executor"
	"github.com/nstogner/nbtool/pkg/notebook"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Local tool server; callers are trusted.
	},
}

// executeRequest is one client message on the execute socket.
type executeRequest struct {
	NotebookPath string  `json:"notebook_path"`
	CellIndex    int     `json:"cell_index"`
	KernelName   string  `json:"kernel_name"`
	Timeout      float64 `json:"timeout"`
}

// executeEvent is sent for every output and once more with the outcome.
type executeEvent struct {
	Type    string            `json:"type"`
	Output  *notebook.Output  `json:"output,omitempty"`
	Summary string            `json:"summary,omitempty"`
	Result  *executor.Outcome `json:"result,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// handleExecuteWebSocket runs cells requested by the client and streams
// their outputs as they arrive. Requests on one socket run in order.
func (s *Server) handleExecuteWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	for {
		var req executeRequest
		if err := ws.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("WebSocket read error", "error", err)
			}
			return
		}
		if req.NotebookPath == "" {
			if err := ws.WriteJSON(executeEvent{Type: "error", Error: "notebook_path is required"}); err != nil {
				return
			}
			continue
		}

		opts := executor.Options{
			Spec:    req.KernelName,
			Timeout: time.Duration(req.Timeout * float64(time.Second)),
			OnOutput: func(o notebook.Output) {
				if err := ws.WriteJSON(executeEvent{Type: "output", Output: &o, Summary: notebook.Summarize(o)}); err != nil {
					slog.Debug("Dropping streamed output", "error", err)
				}
			},
		}
		out, err := s.runner.Execute(r.Context(), req.NotebookPath, req.CellIndex, opts)
		ev := executeEvent{Type: "result", Result: out}
		if err != nil {
			ev.Error = err.Error()
		}
		if err := ws.WriteJSON(ev); err != nil {
			slog.Debug("WebSocket write error", "error", err)
			return
		}
	}
}
