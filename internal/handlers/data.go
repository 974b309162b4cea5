package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"wearable-connector/internal/common/errors"
	"wearable-connector/internal/connector"
)

const (
	defaultFetchLimit = 25
	maxFetchLimit     = 100
)

// HandleFetchData fetches a resource from the vendor API on behalf of a
// connected user. Optional start/end bound collection queries; limit
// caps page size.
func (h *Handlers) HandleFetchData(w http.ResponseWriter, r *http.Request) {
	base, ok := h.vendorBase(w, r)
	if !ok {
		return
	}

	vars := mux.Vars(r)
	userID := vars["user_id"]
	resourceType := vars["resource_type"]
	resourceID := vars["resource_id"]

	params, err := fetchParamsFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	data, err := base.FetchData(r.Context(), userID, resourceType, resourceID, params)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, data)
}

// HandleRateLimitStatus reports remaining request capacity for a user
// without consuming any of it
func (h *Handlers) HandleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	base, ok := h.vendorBase(w, r)
	if !ok {
		return
	}

	status, err := base.RateLimitStatus(mux.Vars(r)["user_id"])
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

type pullRequest struct {
	ResourceTypes []string `json:"resource_types"`
	Since         string   `json:"since"`
	Limit         int      `json:"limit"`
}

type pullResponse struct {
	Results map[string]map[string]interface{} `json:"results"`
	Errors  map[string]string                 `json:"errors,omitempty"`
}

// HandlePull triggers an on-demand sweep of one user's resources,
// outside the scheduled pull cycle. Stops early when the user's rate
// limit budget runs out.
func (h *Handlers) HandlePull(w http.ResponseWriter, r *http.Request) {
	base, ok := h.vendorBase(w, r)
	if !ok {
		return
	}
	userID := mux.Vars(r)["user_id"]

	req := pullRequest{Limit: defaultFetchLimit}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errors.ValidationError("invalid JSON body"))
			return
		}
	}

	// Query parameters override the body
	query := r.URL.Query()
	if raw := query.Get("resource_types"); raw != "" {
		req.ResourceTypes = strings.Split(raw, ",")
	}
	if raw := query.Get("since"); raw != "" {
		req.Since = raw
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, errors.ValidationError("limit must be a positive integer"))
			return
		}
		req.Limit = limit
	}

	var since time.Time
	if req.Since != "" {
		parsed, err := time.Parse(time.RFC3339, req.Since)
		if err != nil {
			writeError(w, errors.ValidationError("since must be RFC3339"))
			return
		}
		since = parsed
	}
	if req.Limit <= 0 {
		req.Limit = defaultFetchLimit
	}
	if req.Limit > maxFetchLimit {
		req.Limit = maxFetchLimit
	}
	if len(req.ResourceTypes) == 0 {
		req.ResourceTypes = base.DefaultResources()
	}

	resp := pullResponse{
		Results: make(map[string]map[string]interface{}),
		Errors:  make(map[string]string),
	}

	for _, resourceType := range req.ResourceTypes {
		data, err := base.FetchData(r.Context(), userID, resourceType, "", connector.FetchParams{Start: since, Limit: req.Limit})
		if err != nil {
			if errors.IsType(err, errors.ErrTypeRateLimit) {
				writeError(w, err)
				return
			}
			resp.Errors[resourceType] = err.Error()
			continue
		}
		resp.Results[resourceType] = data
	}

	if len(resp.Errors) == 0 {
		resp.Errors = nil
	}
	writeJSON(w, http.StatusOK, resp)
}

func fetchParamsFromQuery(r *http.Request) (connector.FetchParams, error) {
	var params connector.FetchParams
	query := r.URL.Query()

	if raw := query.Get("start"); raw != "" {
		start, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return params, errors.ValidationError("start must be RFC3339")
		}
		params.Start = start
	}
	if raw := query.Get("end"); raw != "" {
		end, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return params, errors.ValidationError("end must be RFC3339")
		}
		params.End = end
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return params, errors.ValidationError("limit must be a positive integer")
		}
		if limit > maxFetchLimit {
			limit = maxFetchLimit
		}
		params.Limit = limit
	}

	return params, nil
}
