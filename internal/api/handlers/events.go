package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Harshitk-cp/bnoracle/internal/api/middleware"
	"github.com/Harshitk-cp/bnoracle/internal/domain"
	"github.com/Harshitk-cp/bnoracle/internal/service"
)

const (
	defaultEventPage = 100
	maxEventPage     = 1000
)

type EventHandler struct {
	log   domain.EventLog
	audit *service.AuditService
}

func NewEventHandler(log domain.EventLog, audit *service.AuditService) *EventHandler {
	return &EventHandler{log: log, audit: audit}
}

type eventPage struct {
	Events []domain.Event `json:"events"`
	// Next is the cursor to pass as ?after= for the following page.
	Next int64 `json:"next"`
}

// List handles GET /v1/events?after=N&limit=M. It is how an external
// subscriber catches up after missing notifications.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var after int64
	if s := q.Get("after"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "invalid after")
			return
		}
		after = v
	}
	limit := defaultEventPage
	if s := q.Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(v, maxEventPage)
	}

	events, err := h.log.LoadAfter(r.Context(), after, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}
	page := eventPage{Events: events, Next: after}
	if page.Events == nil {
		page.Events = []domain.Event{}
	}
	if n := len(events); n > 0 {
		page.Next = events[n-1].Seq
	}
	writeJSON(w, http.StatusOK, page)
}

// Verify handles GET /v1/events/verify.
func (h *EventHandler) Verify(w http.ResponseWriter, r *http.Request) {
	res, err := h.audit.VerifyChain(r.Context(), middleware.ActorFromContext(r.Context()))
	if err != nil {
		if errors.Is(err, domain.ErrChainBroken) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeServiceError(w, err, "failed to verify event chain")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
