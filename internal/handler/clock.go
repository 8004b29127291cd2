package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pavelanni/shoshin/internal/examstate"
	"github.com/pavelanni/shoshin/internal/model"
)

const clockInterval = time.Second

// clockTick is one server-sent clock event.
type clockTick struct {
	Remaining         int  `json:"remaining_seconds"`
	QuestionRemaining *int `json:"question_remaining_seconds,omitempty"`
	Index             int  `json:"index"`
	InReview          bool `json:"in_review"`
	Expired           bool `json:"expired"`
}

// handleClock streams the remaining time as server-sent events. Every tick
// reopens the session so question timeouts advance navigation even when the
// examinee sends nothing. The stream ends with an "expired" event.
func (h *Handler) handleClock(w http.ResponseWriter, r *http.Request) {
	sess, err := h.openSession(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.fail(w, r, fmt.Errorf("response writer cannot stream"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	user := model.UserFromContext(r.Context())
	exam := sess.Exam()
	for range examstate.Watch(r.Context(), sess.Deadline(), clockInterval, h.now) {
		now := h.now()
		cur, err := examstate.Open(h.store, user.ID, exam, h.config.TimedNavigation, now)
		if err != nil {
			slog.Error("clock: reopen session", "user_id", user.ID, "exam_id", exam.ID, "error", err)
			return
		}
		snap, err := cur.Snapshot(now)
		if err != nil {
			slog.Error("clock: snapshot", "user_id", user.ID, "exam_id", exam.ID, "error", err)
			return
		}
		tick := clockTick{
			Remaining:         snap.Remaining,
			QuestionRemaining: snap.QuestionRemaining,
			Index:             snap.Index,
			InReview:          snap.InReview,
			Expired:           snap.Expired,
		}
		event := "tick"
		if tick.Expired {
			event = "expired"
		}
		if err := writeEvent(w, event, tick); err != nil {
			slog.Debug("clock: client gone", "user_id", user.ID, "error", err)
			return
		}
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
