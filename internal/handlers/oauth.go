package handlers

import (
	"net/http"
	"net/url"

	"wearable-connector/internal/common/errors"
	"wearable-connector/internal/common/logging"
)

// HandleAuthorize issues the vendor authorization URL for a user. The
// caller redirects the user's browser to the returned URL.
func (h *Handlers) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	base, ok := h.vendorBase(w, r)
	if !ok {
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, errors.ValidationError("user_id is required"))
		return
	}
	redirectURI := r.URL.Query().Get("redirect_uri")
	if redirectURI == "" {
		redirectURI = base.RedirectURI()
	}
	if redirectURI == "" {
		writeError(w, errors.ValidationError("redirect_uri is required when no default is configured"))
		return
	}

	authURL, err := base.BuildAuthorizationURL(userID, redirectURI)
	if err != nil {
		writeError(w, err)
		return
	}

	state := ""
	if parsed, err := url.Parse(authURL); err == nil {
		state = parsed.Query().Get("state")
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"authorization_url": authURL,
		"state":             state,
	})
}

// HandleCallback completes the OAuth flow: exchanges the authorization
// code for tokens and stores them. The state parameter identifies the
// user and proves the flow originated here.
func (h *Handlers) HandleCallback(w http.ResponseWriter, r *http.Request) {
	base, ok := h.vendorBase(w, r)
	if !ok {
		return
	}

	code := r.FormValue("code")
	state := r.FormValue("state")
	redirectURI := r.FormValue("redirect_uri")
	if redirectURI == "" {
		redirectURI = base.RedirectURI()
	}

	if vendorErr := r.FormValue("error"); vendorErr != "" {
		h.logger.Warn("OAuth callback carried a vendor error",
			logging.Field{Key: "vendor", Value: string(base.Vendor())},
			logging.Field{Key: "error", Value: vendorErr},
		)
		writeError(w, errors.OAuthError("authorization denied: "+vendorErr, nil))
		return
	}

	token, err := base.ExchangeCode(r.Context(), code, state, redirectURI)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "connected",
		"vendor":  string(token.Vendor),
		"user_id": token.UserID,
	})
}

// HandleDisconnect revokes vendor-side access best effort and deletes
// the stored tokens unconditionally.
func (h *Handlers) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	base, ok := h.vendorBase(w, r)
	if !ok {
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, errors.ValidationError("user_id is required"))
		return
	}

	if err := base.RevokeTokens(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "disconnected",
		"vendor":  string(base.Vendor()),
		"user_id": userID,
	})
}
