package controllers

import (
	"errors"
	"net/http"

	"github.com/RealZimboGuy/stepflow/internal/engine"
	"github.com/RealZimboGuy/stepflow/internal/util"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/models"
)

type EventsController struct {
	AuthController
	Engine WorkflowEngine
}

func NewEventsController(e WorkflowEngine, userRepo engine.UserRepo) *EventsController {
	return &EventsController{Engine: e, AuthController: AuthController{UserRepo: userRepo}}
}

// handleDispatchEvent starts an instance of every active definition listening
// on the event whose conditions match. Per definition failures are reported
// after the instances that did start.
func (c *EventsController) handleDispatchEvent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	req, err := util.DecodeJSONBody[models.DispatchEventRequest](r)
	if err != nil && !errors.Is(err, util.ErrEmptyBody) {
		badRequest(w, "invalid JSON payload")
		return
	}
	started, err := c.Engine.DispatchEvent(r.Context(), name, req.Data)
	resp := models.DispatchEventResponse{EventName: name, InstanceIDs: make([]string, 0, len(started))}
	for _, inst := range started {
		resp.InstanceIDs = append(resp.InstanceIDs, inst.ID)
	}
	if err != nil && len(started) == 0 {
		writeError(w, r, err)
		return
	}
	if err != nil {
		resp.Errors = []string{err.Error()}
	}
	util.WriteJSONResponse(w, http.StatusAccepted, resp)
}
