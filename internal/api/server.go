// Package api exposes the ingestion coordinator over HTTP: JSON snapshots
// of the ledger and connection state, control endpoints for mode and
// transport lifecycle, and an SSE tail of ledger updates.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Tpanda03/Pulse-RadarProject/internal/detection"
	"github.com/Tpanda03/Pulse-RadarProject/internal/ingest"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	c *ingest.Coordinator
}

func NewServer(c *ingest.Coordinator) *Server {
	return &Server{c: c}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/detections", s.listDetections)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/devices", s.listDevices)
	mux.HandleFunc("/api/mode", s.setMode)
	mux.HandleFunc("/api/connect", s.connect)
	mux.HandleFunc("/api/disconnect", s.disconnect)
	mux.HandleFunc("/api/command", s.sendCommand)
	mux.HandleFunc("/api/clear", s.clearDetections)
	mux.HandleFunc("/api/simulation", s.toggleSimulation)
	mux.HandleFunc("/api/settings", s.updateSettings)
	mux.HandleFunc("/api/stream", s.streamDetections)
	mux.HandleFunc("/", s.homeHandler)
	return mux
}

func (s *Server) homeHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("Pulse radar ingestion server\n"))
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: failed to write response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) listDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	detections := s.c.Detections()
	s.writeJSON(w, map[string]any{
		"detections":  detections,
		"count":       len(detections),
		"last_update": s.c.LastUpdate().UnixMilli(),
	})
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.writeJSON(w, map[string]any{
		"mode":                  s.c.Mode().String(),
		"status":                s.c.Status().String(),
		"signal_strength":       s.c.SignalStrength(),
		"last_error":            s.c.LastError(),
		"detection_count":       len(s.c.Detections()),
		"visualization_enabled": s.c.VisualizationEnabled(),
	})
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.writeJSON(w, map[string]any{"devices": s.c.Devices()})
}

func (s *Server) setMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	mode, err := ingest.ParseMode(r.FormValue("mode"))
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.c.SetMode(mode)
	s.writeJSON(w, map[string]string{"mode": mode.String()})
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// With an address this is a directed BLE device connect; without, it
	// starts the active mode's default connect sequence.
	if address := strings.TrimSpace(r.FormValue("address")); address != "" {
		if err := s.c.ConnectDevice(address); err != nil {
			s.writeJSONError(w, http.StatusConflict, err.Error())
			return
		}
		io.WriteString(w, fmt.Sprintf("Connecting to %s", address))
		return
	}

	if err := s.c.Connect(); err != nil {
		s.writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	io.WriteString(w, "Connecting")
}

func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.c.Disconnect()
	io.WriteString(w, "Disconnected")
}

func (s *Server) sendCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	command := strings.ToUpper(strings.TrimSpace(r.FormValue("command")))
	switch command {
	case ingest.CommandStart, ingest.CommandStop, ingest.CommandClear:
	case "":
		s.writeJSONError(w, http.StatusBadRequest, "Missing command")
		return
	default:
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported command %q", command))
		return
	}

	if err := s.c.SendCommand(command); err != nil {
		s.writeJSONError(w, http.StatusBadGateway, "Failed to send command")
		return
	}
	io.WriteString(w, "Command sent successfully")
}

func (s *Server) clearDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.c.ClearDetections()
	io.WriteString(w, "Detections cleared")
}

func (s *Server) toggleSimulation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	running := s.c.ToggleSimulation()
	s.writeJSON(w, map[string]bool{"running": running})
}

// settingsRequest mirrors the persisted settings shape; absent fields are
// left unchanged.
type settingsRequest struct {
	UpdateIntervalMs     *int  `json:"update_interval_ms"`
	MaxDetections        *int  `json:"max_detections"`
	VisualizationEnabled *bool `json:"visualization_enabled"`
}

func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	s.c.UpdateSettings(req.UpdateIntervalMs, req.MaxDetections, req.VisualizationEnabled)
	io.WriteString(w, "Settings updated")
}

// streamDetections issues one SSE data event per ledger change, each
// carrying the full detection snapshot as JSON.
func (s *Server) streamDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, c := s.c.Subscribe()
	defer s.c.Unsubscribe(id)

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	w.(http.Flusher).Flush()

	for {
		select {
		case snapshot, ok := <-c:
			if !ok {
				return
			}
			if err := writeSSE(w, snapshot); err != nil {
				return
			}
			w.(http.Flusher).Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSE(w io.Writer, snapshot []detection.Detection) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
