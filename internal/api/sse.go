package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// sseWriter streams named events with JSON data payloads.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &sseWriter{w: w, flusher: flusher}, nil
}

// writeEvent sends one event with payload encoded as JSON. Multi-line
// payloads get the per-line data prefix the SSE format requires.
func (s *sseWriter) writeEvent(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
		return fmt.Errorf("write event name: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if _, err := fmt.Fprintf(s.w, "data: %s\n", line); err != nil {
			return fmt.Errorf("write data line: %w", err)
		}
	}
	if _, err := s.w.Write([]byte("\n")); err != nil {
		return fmt.Errorf("write terminator: %w", err)
	}
	s.flusher.Flush()
	return nil
}
