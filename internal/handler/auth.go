package handler

import (
	"net/http"

	"github.com/sakif/python-sandbox/internal/auth"
)

// WhoAmIResponse describes the caller.
type WhoAmIResponse struct {
	Client        string `json:"client,omitempty"`
	Authenticated bool   `json:"authenticated"`
}

// HandleWhoAmI reports which client the bearer token belongs to. Clients use
// it to check their token before wiring up the MCP endpoint.
//
// HTTP: GET /api/whoami
func HandleWhoAmI(w http.ResponseWriter, r *http.Request) {
	client, ok := auth.ClientFromContext(r.Context())
	writeJSON(w, http.StatusOK, WhoAmIResponse{Client: client, Authenticated: ok})
}
