package controllers

import "net/http"

// RegisterRoutes wires the HTTP routes for this controller.
func (c *DefinitionsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/definitions", c.RequireAuth(c.handleCreateDefinition))
	mux.HandleFunc("GET /api/definitions", c.RequireAuth(c.handleListDefinitions))
	mux.HandleFunc("GET /api/definitions/{id}", c.RequireAuth(c.handleGetDefinition))
	mux.HandleFunc("PUT /api/definitions/{id}", c.RequireAuth(c.handleReviseDefinition))
	mux.HandleFunc("POST /api/definitions/{id}/activate", c.RequireAuth(c.handleActivateDefinition))
	mux.HandleFunc("POST /api/definitions/{id}/deactivate", c.RequireAuth(c.handleDeactivateDefinition))
}
func (c *InstancesController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/instances", c.RequireAuth(c.handleStartInstance))
	mux.HandleFunc("GET /api/instances", c.RequireAuth(c.handleSearchInstances))
	mux.HandleFunc("GET /api/instances/{id}", c.RequireAuth(c.handleGetInstance))
	mux.HandleFunc("POST /api/instances/{id}/cancel", c.RequireAuth(c.handleCancelInstance))
	mux.HandleFunc("GET /api/instances/{id}/actions", c.RequireAuth(c.handleGetActions))
}
func (c *ApprovalsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/approvals", c.RequireAuth(c.handleListPending))
	mux.HandleFunc("GET /api/approvals/{id}", c.RequireAuth(c.handleGetTask))
	mux.HandleFunc("POST /api/approvals/{id}/vote", c.RequireAuth(c.handleVote))
}
func (c *EventsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/events/{name}", c.RequireAuth(c.handleDispatchEvent))
}
func (c *HandlersController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/handlers", c.RequireAuth(c.handleGetHandlers))
}
func (c *UsersController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/users", c.RequireAdmin(c.handleGetUsers))
	mux.HandleFunc("POST /api/users", c.RequireAdmin(c.handleCreateUser))
}
