package controllers

import (
	"log/slog"
	"net/http"

	"github.com/RealZimboGuy/stepflow/internal/flowerrors"
	"github.com/RealZimboGuy/stepflow/internal/util"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/models"
)

// Error codes returned in models.ErrorResponse.
const (
	codeInvalid  = "INVALID_REQUEST"
	codeNotFound = "NOT_FOUND"
	codeConflict = "CONFLICT"
	codeInternal = "INTERNAL"
)

// writeError maps engine errors onto status codes. Anything unclassified is a 500
// and its detail stays in the log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case flowerrors.IsValidation(err):
		util.WriteJSONResponse(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error(), Code: codeInvalid})
	case flowerrors.IsNotFound(err):
		util.WriteJSONResponse(w, http.StatusNotFound, models.ErrorResponse{Error: err.Error(), Code: codeNotFound})
	case flowerrors.IsConflict(err):
		util.WriteJSONResponse(w, http.StatusConflict, models.ErrorResponse{Error: err.Error(), Code: codeConflict})
	default:
		slog.ErrorContext(r.Context(), "Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		util.WriteJSONResponse(w, http.StatusInternalServerError, models.ErrorResponse{Error: "internal error", Code: codeInternal})
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	util.WriteJSONResponse(w, http.StatusBadRequest, models.ErrorResponse{Error: msg, Code: codeInvalid})
}
