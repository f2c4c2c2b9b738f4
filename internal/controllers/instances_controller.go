package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/RealZimboGuy/stepflow/internal/engine"
	"github.com/RealZimboGuy/stepflow/internal/util"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/models"
)

type InstancesController struct {
	AuthController
	Engine WorkflowEngine
}

func NewInstancesController(e WorkflowEngine, userRepo engine.UserRepo) *InstancesController {
	return &InstancesController{Engine: e, AuthController: AuthController{UserRepo: userRepo}}
}

func (c *InstancesController) handleStartInstance(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.StartInstanceRequest](r)
	if err != nil {
		badRequest(w, "invalid JSON payload")
		return
	}
	if req.DefinitionID == "" {
		badRequest(w, "definitionId is required")
		return
	}
	inst, err := c.Engine.StartInstance(r.Context(), req.DefinitionID, domain.TriggerData{EventName: req.EventName, Data: req.Data})
	if err != nil {
		writeError(w, r, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusCreated, inst)
}

func (c *InstancesController) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := c.Engine.GetInstance(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, inst)
}

// handleSearchInstances filters on the definitionName, definitionId, status,
// limit and offset query parameters.
func (c *InstancesController) handleSearchInstances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := models.SearchInstancesRequest{
		DefinitionName: q.Get("definitionName"),
		DefinitionID:   q.Get("definitionId"),
		Status:         domain.InstanceStatus(q.Get("status")),
	}
	var err error
	if v := q.Get("limit"); v != "" {
		if req.Limit, err = strconv.Atoi(v); err != nil || req.Limit < 0 {
			badRequest(w, "limit must be a non-negative integer")
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if req.Offset, err = strconv.Atoi(v); err != nil || req.Offset < 0 {
			badRequest(w, "offset must be a non-negative integer")
			return
		}
	}
	results, err := c.Engine.SearchInstances(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, results)
}

// handleCancelInstance accepts an optional {"reason": "..."} body.
func (c *InstancesController) handleCancelInstance(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.CancelInstanceRequest](r)
	if err != nil && !errors.Is(err, util.ErrEmptyBody) {
		badRequest(w, "invalid JSON payload")
		return
	}
	inst, err := c.Engine.CancelInstance(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, inst)
}

func (c *InstancesController) handleGetActions(w http.ResponseWriter, r *http.Request) {
	actions, err := c.Engine.ListInstanceActions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, actions)
}
