package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

type errorMapping struct {
	err    error
	status int
	code   response.ErrCode
}

// errorTable is matched in order with errors.Is, so wrapped sentinels must
// come before the ones they wrap.
var errorTable = []errorMapping{
	{service.ErrNotEnrolled, http.StatusForbidden, response.ErrNotEnrolled},
	{service.ErrNotOwner, http.StatusForbidden, response.ErrNotExamOwner},
	{service.ErrNotAttemptOwner, http.StatusForbidden, response.ErrNotAttemptOwner},
	{service.ErrExamUnavailable, http.StatusForbidden, response.ErrExamNotAvailable},
	{service.ErrForbidden, http.StatusForbidden, response.ErrForbidden},
	{service.ErrReconnectExpired, http.StatusGone, response.ErrReconnectExpired},
	{service.ErrExpired, http.StatusGone, response.ErrAttemptExpired},
	{service.ErrNotFound, http.StatusNotFound, response.ErrNotFound},
	{service.ErrNotEditable, http.StatusConflict, response.ErrAttemptNotEditable},
	{service.ErrAlreadySubmitted, http.StatusConflict, response.ErrAlreadySubmitted},
	{service.ErrVersionConflict, http.StatusConflict, response.ErrVersionConflict},
	{service.ErrNotGradable, http.StatusConflict, response.ErrNotGradable},
	{service.ErrExamNotActive, http.StatusConflict, response.ErrExamNotActive},
	{service.ErrExamNotSchedulable, http.StatusConflict, response.ErrExamNotSchedulable},
	{service.ErrSessionEnded, http.StatusConflict, response.ErrSessionEnded},
	{service.ErrInvalidScore, http.StatusUnprocessableEntity, response.ErrInvalidScore},
	{service.ErrNoQuestions, http.StatusUnprocessableEntity, response.ErrNoQuestions},
	{service.ErrInvalidWindow, http.StatusBadRequest, response.ErrInvalidWindow},
	{service.ErrUnknownQuestion, http.StatusBadRequest, response.ErrUnknownQuestion},
	{service.ErrInvalidViolation, http.StatusBadRequest, response.ErrInvalidViolation},
}

// classify maps a service error to its HTTP status and error code. Unknown
// errors are internal.
func classify(err error) (int, response.ErrCode) {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, response.ErrInternal
}

// respondError writes the envelope for err and logs it when it is not a
// known domain outcome.
func respondError(c *gin.Context, log zerolog.Logger, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).
			Str("path", c.FullPath()).
			Str("request_id", c.GetString(response.ContextKeyRequestID)).
			Msg("Request failed")
	}
	response.Fail(c, status, code)
}

// paramUUID parses a UUID path parameter, writing INVALID_ID on failure.
func paramUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
