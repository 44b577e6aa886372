package http

import (
	"errors"
	"net/http"

	"tufserv/internal/domain"
	"tufserv/internal/infra/db"

	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Cause       any    `json:"cause,omitempty"`
	ErrorID     string `json:"errorId,omitempty"`
}

func writeError(c *gin.Context, err error) {
	var rootErr *domain.RootValidationError
	if errors.As(err, &rootErr) {
		c.JSON(http.StatusBadRequest, errorResponse{
			Code:        "invalid_root_role",
			Description: domain.ErrInvalidRootRole.Error(),
			Cause:       rootErr.Causes,
		})
		return
	}

	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, domain.ErrMissingEntity):
		status, code = http.StatusNotFound, "missing_entity"
	case errors.Is(err, domain.ErrEntityAlreadyExists):
		status, code = http.StatusConflict, "entity_already_exists"
	case errors.Is(err, domain.ErrKeysNotReady):
		status, code = http.StatusFailedDependency, "keys_not_ready"
	case errors.Is(err, domain.ErrRoleKeyNotFound):
		status, code = http.StatusPreconditionFailed, "role_key_not_found"
	case errors.Is(err, domain.ErrKeyNotAvailable):
		status, code = http.StatusPreconditionFailed, "key_not_available"
	case errors.Is(err, domain.ErrInvalidVersionBump):
		status, code = http.StatusConflict, "invalid_version_bump"
	case errors.Is(err, domain.ErrInvalidRootRole):
		status, code = http.StatusBadRequest, "invalid_root_role"
	case errors.Is(err, domain.ErrPayloadSignatureInvalid):
		status, code = http.StatusBadRequest, "payload_signature_invalid"
	case errors.Is(err, domain.ErrDelegationNotDefined):
		status, code = http.StatusBadRequest, "delegation_not_defined"
	case errors.Is(err, domain.ErrPreconditionRequired):
		status, code = http.StatusPreconditionRequired, "precondition_required"
	case errors.Is(err, domain.ErrPreconditionFailed):
		status, code = http.StatusPreconditionFailed, "precondition_failed"
	case errors.Is(err, domain.ErrPayloadTooLarge):
		status, code = http.StatusRequestEntityTooLarge, "payload_too_large"
	case errors.Is(err, domain.ErrNoURIForUnmanagedTarget):
		status, code = http.StatusPreconditionFailed, "no_uri_for_unmanaged_target"
	case errors.Is(err, domain.ErrInvalidTargetItem):
		status, code = http.StatusBadRequest, "invalid_entity"
	}

	resp := errorResponse{Code: code, Description: err.Error()}
	if status == http.StatusInternalServerError {
		if id, idErr := db.NewUUID(); idErr == nil {
			resp.ErrorID = id
		}
	}
	c.JSON(status, resp)
}

func writeErrorCode(c *gin.Context, status int, code, description string) {
	c.JSON(status, errorResponse{Code: code, Description: description})
}
