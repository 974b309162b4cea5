// Package handlers exposes the connector core over HTTP: webhook intake,
// per-vendor OAuth flows, data fetch, rate-limit inspection, and manual
// pull triggers.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"wearable-connector/internal/common/errors"
	"wearable-connector/internal/common/logging"
	"wearable-connector/internal/connector"
	"wearable-connector/internal/vendors"
)

// Handlers routes HTTP requests to the per-vendor orchestrators
type Handlers struct {
	bases  map[vendors.VendorType]*connector.Base
	puller *connector.Puller
	logger logging.Logger
}

// New creates the handler set
func New(bases map[vendors.VendorType]*connector.Base, puller *connector.Puller, logger logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Handlers{bases: bases, puller: puller, logger: logger}
}

// vendorBase resolves the {vendor} path variable to its orchestrator.
// Writes the error response itself when the vendor is unknown.
func (h *Handlers) vendorBase(w http.ResponseWriter, r *http.Request) (*connector.Base, bool) {
	name := mux.Vars(r)["vendor"]

	vendor, err := vendors.ParseVendorType(name)
	if err != nil {
		writeError(w, errors.NotFoundError(fmt.Sprintf("vendor %q", name)))
		return nil, false
	}

	base, ok := h.bases[vendor]
	if !ok {
		writeError(w, errors.NotFoundError(fmt.Sprintf("vendor %q", name)))
		return nil, false
	}
	return base, true
}

// writeJSON writes a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Vendor  string `json:"vendor,omitempty"`
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

// writeError maps the error taxonomy onto HTTP statuses. Rate limit
// responses carry a Retry-After header in whole seconds. Causes are
// never serialized; only the top-level message leaves the process.
func writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)

	if retryAfter := errors.RetryAfter(err); retryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())))
	}

	detail := errorDetail{
		Code:    string(errors.GetType(err)),
		Message: err.Error(),
	}
	if appErr, ok := err.(*errors.AppError); ok {
		detail.Message = appErr.Message
		if appErr.Code != "" {
			detail.Code = appErr.Code
		}
		if vendor, ok := appErr.Context["vendor"].(string); ok {
			detail.Vendor = vendor
		}
	}

	writeJSON(w, status, errorResponse{Error: detail})
}

func statusForError(err error) int {
	switch errors.GetType(err) {
	case errors.ErrTypeOAuth:
		return http.StatusUnauthorized
	case errors.ErrTypeWebhook:
		// A parse failure is a bad request the vendor should not
		// retry; a rejected signature invites a redelivery in case
		// the failure was transient.
		if appErr, ok := err.(*errors.AppError); ok && appErr.Code == connector.CodeParseFailed {
			return http.StatusBadRequest
		}
		return http.StatusUnauthorized
	case errors.ErrTypeRateLimit:
		return http.StatusTooManyRequests
	case errors.ErrTypeVendorAPI:
		return http.StatusBadGateway
	case errors.ErrTypeValidation:
		return http.StatusBadRequest
	case errors.ErrTypeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
