package http

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"bract/internal/domain/dispatch"
	"bract/internal/domain/notification"
	"bract/internal/domain/reminder"
)

// Defaults for POST /reminders fields the client leaves out. They are applied
// here only; the preference store never fills them in.
const (
	DefaultDaysBefore = 3
	DefaultMethod     = notification.MethodEmail
)

// ReminderService is the part of reminder.Service the handler needs.
type ReminderService interface {
	Get(ctx context.Context, userID string) (map[string]*reminder.Preference, error)
	Upsert(ctx context.Context, params reminder.UpsertParams) (*reminder.Preference, error)
	Delete(ctx context.Context, userID, streamID string) error
}

// FailureLister lists occurrences whose delivery failed permanently.
type FailureLister interface {
	ListFailed(ctx context.Context, userID string) ([]*dispatch.Record, error)
}

type ReminderHandler struct {
	reminders ReminderService
	failures  FailureLister
	log       *zap.Logger
}

func NewReminderHandler(reminders ReminderService, failures FailureLister, log *zap.Logger) *ReminderHandler {
	return &ReminderHandler{
		reminders: reminders,
		failures:  failures,
		log:       log.With(zap.String("handler", "reminders")),
	}
}

type SetReminderRequest struct {
	StreamID       string  `json:"stream_id"`
	DaysBefore     *int    `json:"reminder_days_before"`
	DeliveryMethod *string `json:"delivery_method"`
}

type RemindersResponse struct {
	Reminders []*reminder.Preference `json:"reminders"`
}

type FailureResponse struct {
	StreamID       string    `json:"stream_id"`
	OccurrenceDate string    `json:"occurrence_date"`
	Reason         string    `json:"reason"`
	AttemptedAt    time.Time `json:"attempted_at"`
}

type FailuresResponse struct {
	Failures []FailureResponse `json:"failures"`
}

// HandleListReminders handles GET /reminders
func (h *ReminderHandler) HandleListReminders(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	prefs, err := h.reminders.Get(r.Context(), userID)
	if err != nil {
		respondInternal(w, h.log, "failed to list reminders", err, zap.String("user_id", userID))
		return
	}

	list := make([]*reminder.Preference, 0, len(prefs))
	for _, p := range prefs {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].StreamID < list[j].StreamID })

	respondJSON(w, http.StatusOK, RemindersResponse{Reminders: list})
}

// HandleSetReminder handles POST /reminders
func (h *ReminderHandler) HandleSetReminder(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req SetReminderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	params := reminder.UpsertParams{
		UserID:     userID,
		StreamID:   req.StreamID,
		DaysBefore: DefaultDaysBefore,
		Method:     DefaultMethod,
	}
	if req.DaysBefore != nil {
		params.DaysBefore = *req.DaysBefore
	}
	if req.DeliveryMethod != nil {
		params.Method = notification.Method(*req.DeliveryMethod)
	}

	_, err := h.reminders.Upsert(r.Context(), params)
	switch {
	case errors.Is(err, reminder.ErrInvalidRange),
		errors.Is(err, reminder.ErrStreamRequired),
		errors.Is(err, reminder.ErrInvalidMethod):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		respondInternal(w, h.log, "failed to save reminder", err, zap.String("user_id", userID), zap.String("stream_id", req.StreamID))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleDeleteReminder handles DELETE /reminders/{stream_id}
func (h *ReminderHandler) HandleDeleteReminder(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	streamID := mux.Vars(r)["stream_id"]

	err := h.reminders.Delete(r.Context(), userID, streamID)
	switch {
	case errors.Is(err, reminder.ErrStreamRequired):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, reminder.ErrNotFound):
		respondError(w, http.StatusNotFound, "Reminder not found")
		return
	case err != nil:
		respondInternal(w, h.log, "failed to delete reminder", err, zap.String("user_id", userID), zap.String("stream_id", streamID))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleListFailures handles GET /reminders/failures
func (h *ReminderHandler) HandleListFailures(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	records, err := h.failures.ListFailed(r.Context(), userID)
	if err != nil {
		respondInternal(w, h.log, "failed to list delivery failures", err, zap.String("user_id", userID))
		return
	}

	out := make([]FailureResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, FailureResponse{
			StreamID:       rec.Key.StreamID,
			OccurrenceDate: rec.Key.OccurrenceDate.Format(time.DateOnly),
			Reason:         rec.FailureReason,
			AttemptedAt:    rec.ClaimedAt,
		})
	}
	respondJSON(w, http.StatusOK, FailuresResponse{Failures: out})
}
