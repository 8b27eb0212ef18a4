package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/time-capsule/internal/lifecycle"
	"github.com/iliyamo/time-capsule/internal/media"
	"github.com/iliyamo/time-capsule/internal/reconcile"
	"github.com/iliyamo/time-capsule/internal/repository"
	"github.com/iliyamo/time-capsule/internal/storage"
)

// statusFor maps domain errors to HTTP status codes.  Reconciliation
// failures are matched first: they wrap repository errors.
func statusFor(err error) int {
	var f *reconcile.Failure
	if errors.As(err, &f) {
		switch f.Kind {
		case reconcile.KindNoPaymentReference:
			return http.StatusBadRequest
		case reconcile.KindSessionLost:
			return http.StatusGone
		case reconcile.KindReconciliationMismatch:
			return http.StatusConflict
		case reconcile.KindPaymentUnverified:
			return http.StatusPaymentRequired
		default:
			return http.StatusBadGateway
		}
	}
	switch {
	case errors.Is(err, lifecycle.ErrNoContent),
		errors.Is(err, lifecycle.ErrMessageTooLong),
		errors.Is(err, media.ErrDeviceUnavailable),
		errors.Is(err, media.ErrClipTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, media.ErrCapacityExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrStorage):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// errorBody hides internal error text behind a generic message for 5xx.
func errorBody(err error, status int) echo.Map {
	body := echo.Map{}
	var f *reconcile.Failure
	switch {
	case errors.As(err, &f):
		body["error"] = f.Kind.String()
		body["diagnostic"] = f.Diagnostic()
		body["payment_ref"] = f.PaymentRef
		if f.CapsuleID != "" {
			body["capsule_id"] = f.CapsuleID
		}
	case errors.Is(err, repository.ErrNotFound):
		body["error"] = "capsule does not exist"
	case errors.Is(err, storage.ErrStorage):
		body["error"] = "storage error, try again"
	case status >= 500:
		body["error"] = "internal error"
	default:
		body["error"] = err.Error()
	}
	return body
}

func writeError(c echo.Context, err error) error {
	status := statusFor(err)
	return c.JSON(status, errorBody(err, status))
}
