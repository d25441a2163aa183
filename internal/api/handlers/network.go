package handlers

import (
	"net/http"

	"github.com/Harshitk-cp/bnoracle/internal/bayes"
)

type NetworkHandler struct {
	net *bayes.Network
}

func NewNetworkHandler(net *bayes.Network) *NetworkHandler {
	return &NetworkHandler{net: net}
}

type networkResponse struct {
	Name             string           `json:"name"`
	Nodes            []bayes.NodeSpec `json:"nodes"`
	Targets          []string         `json:"targets"`
	Required         []string         `json:"required"`
	EliminationOrder []string         `json:"elimination_order"`
}

func (h *NetworkHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, networkResponse{
		Name:             h.net.Name(),
		Nodes:            h.net.Nodes(),
		Targets:          h.net.Targets(),
		Required:         h.net.Required(),
		EliminationOrder: h.net.EliminationOrder(),
	})
}
