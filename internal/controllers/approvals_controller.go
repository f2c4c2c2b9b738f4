package controllers

import (
	"net/http"
	"strconv"

	"github.com/RealZimboGuy/stepflow/internal/engine"
	"github.com/RealZimboGuy/stepflow/internal/util"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/core"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/models"
)

type ApprovalsController struct {
	AuthController
	Engine WorkflowEngine
}

func NewApprovalsController(e WorkflowEngine, userRepo engine.UserRepo) *ApprovalsController {
	return &ApprovalsController{Engine: e, AuthController: AuthController{UserRepo: userRepo}}
}

// handleListPending returns pending tasks. Non-admin callers only see tasks
// they are an approver on.
func (c *ApprovalsController) handleListPending(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.ApprovalFilter{
		User:       q.Get("user"),
		InstanceID: q.Get("instanceId"),
	}
	if !core.IsAdmin(r.Context()) {
		filter.User = core.UsernameFrom(r.Context())
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			badRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}
	tasks, err := c.Engine.ListPendingApprovals(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, tasks)
}

func (c *ApprovalsController) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := c.Engine.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, task)
}

// handleVote records a vote for the authenticated user. Admins may vote on
// behalf of another approver by setting userId.
func (c *ApprovalsController) handleVote(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.VoteRequest](r)
	if err != nil {
		badRequest(w, "invalid JSON payload")
		return
	}
	voter := core.UsernameFrom(r.Context())
	if req.UserID != "" && req.UserID != voter {
		if !core.IsAdmin(r.Context()) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		voter = req.UserID
	}
	task, err := c.Engine.Vote(r.Context(), r.PathValue("id"), voter, req.Action, req.Comment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, task)
}
