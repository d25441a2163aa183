package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Harshitk-cp/bnoracle/internal/api/middleware"
	"github.com/Harshitk-cp/bnoracle/internal/domain"
	"github.com/Harshitk-cp/bnoracle/internal/service"
)

type ClaimHandler struct {
	claims   *service.ClaimService
	evidence *service.EvidenceService
	oracle   *service.OracleService
	audit    *service.AuditService
}

func NewClaimHandler(claims *service.ClaimService, evidence *service.EvidenceService, oracle *service.OracleService, audit *service.AuditService) *ClaimHandler {
	return &ClaimHandler{claims: claims, evidence: evidence, oracle: oracle, audit: audit}
}

type openClaimRequest struct {
	ExternalKey string `json:"external_key"`
}

func (h *ClaimHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openClaimRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claim, err := h.claims.Open(r.Context(), middleware.ActorFromContext(r.Context()), req.ExternalKey)
	if err != nil {
		writeServiceError(w, err, "failed to open claim")
		return
	}
	writeJSON(w, http.StatusCreated, claim)
}

func (h *ClaimHandler) List(w http.ResponseWriter, r *http.Request) {
	state := domain.ClaimState(r.URL.Query().Get("state"))
	if state == "" {
		state = domain.ClaimStateOpen
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	claims, err := h.claims.List(r.Context(), state, limit)
	if err != nil {
		writeServiceError(w, err, "failed to list claims")
		return
	}
	if claims == nil {
		claims = []domain.Claim{}
	}
	writeJSON(w, http.StatusOK, claims)
}

func (h *ClaimHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := claimID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid claim id")
		return
	}
	claim, err := h.claims.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "failed to get claim")
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

type evidenceListResponse struct {
	ClaimID     int64             `json:"claim_id"`
	EvidenceIDs []int64           `json:"evidence_ids"`
	Evidence    []domain.Evidence `json:"evidence"`
}

func (h *ClaimHandler) ListEvidence(w http.ResponseWriter, r *http.Request) {
	id, ok := claimID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid claim id")
		return
	}
	evs, err := h.evidence.ListForClaim(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "failed to list evidence")
		return
	}
	writeJSON(w, http.StatusOK, evidenceListResponse{
		ClaimID:     id,
		EvidenceIDs: domain.EvidenceIDs(evs),
		Evidence:    evs,
	})
}

type addEvidenceRequest struct {
	EvidenceIndex *int `json:"evidence_index"`
	Value         *int `json:"value"`
}

func (h *ClaimHandler) AddEvidence(w http.ResponseWriter, r *http.Request) {
	id, ok := claimID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid claim id")
		return
	}
	var req addEvidenceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.EvidenceIndex == nil || req.Value == nil {
		writeError(w, http.StatusBadRequest, "evidence_index and value are required")
		return
	}

	ev, err := h.evidence.Add(r.Context(), middleware.ActorFromContext(r.Context()), id, *req.EvidenceIndex, *req.Value)
	if err != nil {
		writeServiceError(w, err, "failed to record evidence")
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

type triggerResponse struct {
	Claim   *domain.Claim `json:"claim"`
	Changed bool          `json:"changed"`
}

func (h *ClaimHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	id, ok := claimID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid claim id")
		return
	}
	claim, changed, err := h.claims.Trigger(r.Context(), middleware.ActorFromContext(r.Context()), id)
	if err != nil {
		writeServiceError(w, err, "failed to trigger claim")
		return
	}
	writeJSON(w, http.StatusOK, triggerResponse{Claim: claim, Changed: changed})
}

type resolveResponse struct {
	Belief          *domain.Belief `json:"belief"`
	AlreadyResolved bool           `json:"already_resolved"`
}

func (h *ClaimHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := claimID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid claim id")
		return
	}
	b, err := h.oracle.Resolve(r.Context(), middleware.ActorFromContext(r.Context()), id)
	if errors.Is(err, domain.ErrAlreadyResolved) {
		writeJSON(w, http.StatusOK, resolveResponse{Belief: b, AlreadyResolved: true})
		return
	}
	if err != nil {
		writeServiceError(w, err, "failed to resolve claim")
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{Belief: b})
}

func (h *ClaimHandler) Belief(w http.ResponseWriter, r *http.Request) {
	id, ok := claimID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid claim id")
		return
	}
	b, err := h.claims.Belief(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "failed to get belief")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *ClaimHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id, ok := claimID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid claim id")
		return
	}
	audit, err := h.audit.VerifyClaim(r.Context(), middleware.ActorFromContext(r.Context()), id)
	if err != nil {
		writeServiceError(w, err, "failed to verify claim")
		return
	}
	writeJSON(w, http.StatusOK, audit)
}
