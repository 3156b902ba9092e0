package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/waybill/internal/dispatch"
	"github.com/zulandar/waybill/internal/media"
	"github.com/zulandar/waybill/internal/records"
	"github.com/zulandar/waybill/internal/session"
	"github.com/zulandar/waybill/internal/sheet"
	"gorm.io/gorm"
)

// errBadRequest marks malformed request bodies.
var errBadRequest = errors.New("invalid request")

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, dispatch.ErrInvalidBatch),
		errors.Is(err, media.ErrTooLarge),
		errors.Is(err, media.ErrType),
		errors.Is(err, media.ErrTooMany),
		errors.Is(err, media.ErrOutsideDir),
		errors.Is(err, records.ErrInvalid),
		errors.Is(err, sheet.ErrMissingColumn):
		return http.StatusBadRequest
	case errors.Is(err, records.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrBusy), errors.Is(err, session.ErrAlreadyInitializing):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrCodeTimeout), errors.Is(err, session.ErrReadyTimeout):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the {success:false, error} envelope.
func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"success": false, "error": err.Error()})
}

// failMessage writes the {message} envelope used by the record endpoints.
func failMessage(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"message": err.Error()})
}
