package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Harshitk-cp/bnoracle/internal/api/middleware"
	"github.com/Harshitk-cp/bnoracle/internal/service"
	"github.com/go-chi/chi/v5"
)

type CPTHandler struct {
	svc *service.CPTService
}

func NewCPTHandler(svc *service.CPTService) *CPTHandler {
	return &CPTHandler{svc: svc}
}

type setRowRequest struct {
	ParentAssignment []int     `json:"parent_assignment"`
	Distribution     []float64 `json:"distribution"`
	ExpectedRevision *int64    `json:"expected_revision"`
}

// SetRow handles PUT /v1/cpts/{node}.
func (h *CPTHandler) SetRow(w http.ResponseWriter, r *http.Request) {
	var req setRowRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ExpectedRevision == nil {
		writeError(w, http.StatusBadRequest, "expected_revision is required")
		return
	}

	cpt, err := h.svc.SetRow(r.Context(), middleware.ActorFromContext(r.Context()),
		chi.URLParam(r, "node"), req.ParentAssignment, req.Distribution, *req.ExpectedRevision)
	if err != nil {
		writeServiceError(w, err, "failed to write cpt row")
		return
	}
	writeJSON(w, http.StatusOK, cpt)
}

type setTableRequest struct {
	Rows             [][]float64 `json:"rows"`
	ExpectedRevision *int64      `json:"expected_revision"`
}

// SetTable handles PUT /v1/cpts/{node}/table.
func (h *CPTHandler) SetTable(w http.ResponseWriter, r *http.Request) {
	var req setTableRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ExpectedRevision == nil {
		writeError(w, http.StatusBadRequest, "expected_revision is required")
		return
	}

	cpt, err := h.svc.SetTable(r.Context(), middleware.ActorFromContext(r.Context()),
		chi.URLParam(r, "node"), req.Rows, *req.ExpectedRevision)
	if err != nil {
		writeServiceError(w, err, "failed to write cpt table")
		return
	}
	writeJSON(w, http.StatusOK, cpt)
}

// Snapshot handles GET /v1/cpts?nodes=A,B. No nodes means all of them.
func (h *CPTHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	var nodes []string
	if q := r.URL.Query().Get("nodes"); q != "" {
		for _, n := range strings.Split(q, ",") {
			if n = strings.TrimSpace(n); n != "" {
				nodes = append(nodes, n)
			}
		}
	}
	snap, err := h.svc.Snapshot(r.Context(), nodes)
	if err != nil {
		writeServiceError(w, err, "failed to read cpts")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Revision handles GET /v1/cpts/{node}/revisions/{rev}.
func (h *CPTHandler) Revision(w http.ResponseWriter, r *http.Request) {
	rev, err := strconv.ParseInt(chi.URLParam(r, "rev"), 10, 64)
	if err != nil || rev < 1 {
		writeError(w, http.StatusBadRequest, "invalid revision")
		return
	}
	cpt, err := h.svc.Revision(r.Context(), chi.URLParam(r, "node"), rev)
	if err != nil {
		writeServiceError(w, err, "failed to read cpt revision")
		return
	}
	writeJSON(w, http.StatusOK, cpt)
}
