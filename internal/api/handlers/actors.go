package handlers

import (
	"net/http"

	"github.com/Harshitk-cp/bnoracle/internal/api/middleware"
	"github.com/Harshitk-cp/bnoracle/internal/domain"
	"github.com/Harshitk-cp/bnoracle/internal/service"
)

type ActorHandler struct {
	svc *service.ActorService
}

func NewActorHandler(svc *service.ActorService) *ActorHandler {
	return &ActorHandler{svc: svc}
}

type createActorRequest struct {
	Name  string        `json:"name"`
	Roles []domain.Role `json:"roles"`
}

type createActorResponse struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Roles  []domain.Role `json:"roles"`
	APIKey string        `json:"api_key"`
}

// Create handles POST /v1/actors. The key is only ever shown here.
func (h *ActorHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createActorRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	actor, key, err := h.svc.Create(r.Context(), middleware.ActorFromContext(r.Context()), req.Name, req.Roles)
	if err != nil {
		writeServiceError(w, err, "failed to create actor")
		return
	}
	writeJSON(w, http.StatusCreated, createActorResponse{
		ID:     actor.ID.String(),
		Name:   actor.Name,
		Roles:  actor.Roles,
		APIKey: key,
	})
}

// Me returns the authenticated actor.
func (h *ActorHandler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, middleware.ActorFromContext(r.Context()))
}
