package sso

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/platinummonkey/larkbridge/pkg/accounts"
	"github.com/sirupsen/logrus"
)

const (
	stateCookie     = "larkbridge_sso_state"
	returnURLCookie = "larkbridge_sso_return_url"
	cookieMaxAge    = 600
)

// Handlers handles SSO-related HTTP requests
type Handlers struct {
	bridge       *Bridge
	logger       *logrus.Logger
	secureCookie bool
}

// NewHandlers creates a new SSO handlers instance. secureCookie marks the state cookies
// Secure and should be set whenever the service is reached over HTTPS.
func NewHandlers(bridge *Bridge, logger *logrus.Logger, secureCookie bool) *Handlers {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handlers{bridge: bridge, logger: logger, secureCookie: secureCookie}
}

// RegisterRoutes registers SSO routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/lark/login", h.initiateLogin).Methods(http.MethodGet)
	router.HandleFunc("/auth/lark/callback", h.handleCallback).Methods(http.MethodGet)
	router.HandleFunc("/auth/lark/accounts/{id:[0-9]+}/binding", h.unlink).Methods(http.MethodDelete)
}

func (h *Handlers) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

// initiateLogin handles GET /auth/lark/login
func (h *Handlers) initiateLogin(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	h.setCookie(w, stateCookie, state, cookieMaxAge)

	if returnURL := r.URL.Query().Get("return_url"); isLocalPath(returnURL) {
		h.setCookie(w, returnURLCookie, returnURL, cookieMaxAge)
	}

	http.Redirect(w, r, h.bridge.LoginURL(state), http.StatusFound)
}

// handleCallback handles GET /auth/lark/callback
func (h *Handlers) handleCallback(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(stateCookie)
	if err != nil {
		http.Error(w, "missing state cookie", http.StatusBadRequest)
		return
	}
	if r.URL.Query().Get("state") != cookie.Value {
		http.Error(w, "invalid state parameter", http.StatusBadRequest)
		return
	}
	h.setCookie(w, stateCookie, "", -1)

	view, err := h.bridge.Login(r.Context(), r.URL.Query().Get("code"))
	switch {
	case err == nil:
	case errors.Is(err, ErrAuthExchange):
		http.Error(w, "invalid or expired authorization code", http.StatusUnauthorized)
		return
	case errors.Is(err, ErrUserInfoFetch):
		http.Error(w, "failed to fetch platform identity", http.StatusBadGateway)
		return
	case errors.Is(err, accounts.ErrBindingConflict):
		http.Error(w, "platform identity is linked to another account", http.StatusConflict)
		return
	default:
		http.Error(w, "failed to resolve account", http.StatusInternalServerError)
		return
	}

	if returnCookie, err := r.Cookie(returnURLCookie); err == nil && isLocalPath(returnCookie.Value) {
		h.setCookie(w, returnURLCookie, "", -1)
		http.Redirect(w, r, returnCookie.Value, http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(view); err != nil {
		h.logger.WithError(err).Warn("failed to encode login response")
	}
}

// unlink handles DELETE /auth/lark/accounts/{id}/binding
func (h *Handlers) unlink(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid account id", http.StatusBadRequest)
		return
	}

	err = h.bridge.Unlink(r.Context(), id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ErrNotLinked):
		http.Error(w, "account not linked", http.StatusConflict)
	case errors.Is(err, accounts.ErrNotFound):
		http.Error(w, "account not found", http.StatusNotFound)
	default:
		h.logger.WithError(err).WithField("account_id", id).Error("failed to unlink account")
		http.Error(w, "failed to unlink account", http.StatusInternalServerError)
	}
}

// isLocalPath accepts only same-origin absolute paths as post-login redirects
func isLocalPath(target string) bool {
	return strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//") && !strings.Contains(target, "\\")
}
