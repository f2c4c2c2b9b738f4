package controllers

import (
	"net/http"
	"strconv"

	"github.com/RealZimboGuy/stepflow/internal/engine"
	"github.com/RealZimboGuy/stepflow/internal/util"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/models"
)

// DefinitionsController serves the definition versioning endpoints.
type DefinitionsController struct {
	AuthController
	Engine WorkflowEngine
}

func NewDefinitionsController(e WorkflowEngine, userRepo engine.UserRepo) *DefinitionsController {
	return &DefinitionsController{Engine: e, AuthController: AuthController{UserRepo: userRepo}}
}

// handleCreateDefinition stores a new draft version. With ?activate=true the new
// version is activated straight away.
func (c *DefinitionsController) handleCreateDefinition(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.CreateDefinitionRequest](r)
	if err != nil {
		badRequest(w, "invalid JSON payload")
		return
	}
	def, err := c.Engine.CreateDefinition(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if activate, _ := strconv.ParseBool(r.URL.Query().Get("activate")); activate {
		def, err = c.Engine.ActivateDefinition(r.Context(), def.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
	}
	util.WriteJSONResponse(w, http.StatusCreated, def)
}

func (c *DefinitionsController) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := c.Engine.ListDefinitions(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, defs)
}

func (c *DefinitionsController) handleGetDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := c.Engine.GetDefinition(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, def)
}

// handleReviseDefinition never edits in place: the response is the new version.
func (c *DefinitionsController) handleReviseDefinition(w http.ResponseWriter, r *http.Request) {
	update, err := util.DecodeJSONBody[models.DefinitionUpdate](r)
	if err != nil {
		badRequest(w, "invalid JSON payload")
		return
	}
	def, err := c.Engine.ReviseDefinition(r.Context(), r.PathValue("id"), update)
	if err != nil {
		writeError(w, r, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusCreated, def)
}

func (c *DefinitionsController) handleActivateDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := c.Engine.ActivateDefinition(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, def)
}

func (c *DefinitionsController) handleDeactivateDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := c.Engine.DeactivateDefinition(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, def)
}
