package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/pennaio/penna/internal/conversation"
	"github.com/pennaio/penna/internal/stream"
	"github.com/pennaio/penna/internal/turn"
)

type chatHandler struct {
	registry *conversation.Registry
	turns    *turn.Controller
	logger   *slog.Logger
}

func (h *chatHandler) create(w http.ResponseWriter, _ *http.Request) {
	conv := h.registry.Create()
	writeJSON(w, http.StatusCreated, map[string]string{"conversationId": conv.ID().String()})
}

type renderNodeDTO struct {
	ID   string   `json:"id"`
	View *viewDTO `json:"view"`
}

type viewDTO struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

func (h *chatHandler) messages(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversationFor(w, r)
	if !ok {
		return
	}
	nodes := conv.Project()
	out := make([]renderNodeDTO, 0, len(nodes))
	for _, n := range nodes {
		dto := renderNodeDTO{ID: n.ID}
		if n.View != nil {
			dto.View = &viewDTO{Role: string(n.View.Role), Text: n.View.Text}
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, out)
}

type sendRequest struct {
	Message string `json:"message"`
}

// send runs one turn and streams its output as SSE: zero or more
// "chunk" events (text deltas) or one "tool" event, then "done" with
// the settled result, or "error" if the turn failed.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversationFor(w, r)
	if !ok {
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	sw, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	type outcome struct {
		res turn.Result
		err error
	}
	done := make(chan outcome, 1)
	ready := make(chan turn.Result, 1)
	go func() {
		res, err := h.turns.Submit(r.Context(), conv, req.Message, func(tr turn.Result) {
			ready <- tr
		})
		done <- outcome{res: res, err: err}
	}()

	var final outcome
	announced := false
	for {
		select {
		case tr := <-ready:
			announced = true
			h.emitShape(r.Context(), sw, tr)
			continue
		case final = <-done:
		}
		break
	}
	if !announced {
		// Turns that announce at settle (fallback replies) may race
		// the outcome channel.
		select {
		case tr := <-ready:
			h.emitShape(r.Context(), sw, tr)
		default:
		}
	}

	if final.err != nil {
		h.logger.Warn("turn failed",
			"conversation_id", conv.ID(), "error", final.err)
		_ = sw.writeEvent("error", map[string]string{"message": turnErrorMessage(final.err)})
		return
	}

	payload := map[string]any{"id": final.res.ID}
	if final.res.Text != nil {
		text, _ := final.res.Text.Value()
		payload["text"] = text
	}
	_ = sw.writeEvent("done", payload)
}

// emitShape streams a turn's render handle: the live text or the
// resolved tool view.
func (h *chatHandler) emitShape(ctx context.Context, sw *sseWriter, tr turn.Result) {
	switch {
	case tr.Text != nil:
		h.streamDeltas(ctx, sw, tr.Text)
	case tr.Tool != nil:
		_ = sw.writeEvent("tool", map[string]any{
			"tool":     tr.Tool.ToolName,
			"callId":   tr.Tool.CallID,
			"result":   json.RawMessage(tr.Tool.Result),
			"degraded": tr.Tool.Degraded,
		})
	}
}

func (h *chatHandler) streamDeltas(ctx context.Context, sw *sseWriter, t *stream.Text) {
	sent := 0
	for {
		changed := t.Changed()
		text, final := t.Value()
		if len(text) > sent {
			if err := sw.writeEvent("chunk", map[string]string{"delta": text[sent:]}); err != nil {
				return
			}
			sent = len(text)
		}
		if final {
			return
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return
		}
	}
}

func (h *chatHandler) conversationFor(w http.ResponseWriter, r *http.Request) (*conversation.Conversation, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return nil, false
	}
	conv, err := h.registry.Get(id)
	if errors.Is(err, conversation.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	return conv, true
}

func turnErrorMessage(err error) string {
	if errors.Is(err, conversation.ErrTurnInProgress) {
		return "a turn is already in progress for this conversation"
	}
	return "the assistant could not complete this turn"
}
