package controllers

import (
	"net/http"

	"github.com/RealZimboGuy/stepflow/internal/engine"
	"github.com/RealZimboGuy/stepflow/internal/util"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/models"
)

// FunctionLister reports the names usable in function steps.
type FunctionLister interface {
	Names() []string
}

type HandlersController struct {
	AuthController
	Engine    WorkflowEngine
	Functions FunctionLister
}

func NewHandlersController(e WorkflowEngine, functions FunctionLister, userRepo engine.UserRepo) *HandlersController {
	return &HandlersController{Engine: e, Functions: functions, AuthController: AuthController{UserRepo: userRepo}}
}

func (c *HandlersController) handleGetHandlers(w http.ResponseWriter, r *http.Request) {
	resp := models.HandlersResponse{StepTypes: []string{}, Functions: []string{}}
	for _, t := range c.Engine.StepTypes() {
		resp.StepTypes = append(resp.StepTypes, string(t))
	}
	if c.Functions != nil {
		resp.Functions = append(resp.Functions, c.Functions.Names()...)
	}
	util.WriteJSONResponse(w, http.StatusOK, resp)
}
