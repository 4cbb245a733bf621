// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorkeep Contributors

package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/doorkeep/doorkeep/internal/auth"
	"github.com/doorkeep/doorkeep/internal/observability"
	"github.com/doorkeep/doorkeep/pkg/errutil"
)

type handler struct {
	svc     *auth.Service
	logger  *slog.Logger
	metrics *observability.Metrics
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCredentials(w, r)
	if !ok {
		h.countRegistration("invalid")
		return
	}

	user, err := h.svc.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		h.countRegistration(registrationOutcome(err))
		h.writeError(w, r, err)
		return
	}

	h.countRegistration("created")
	h.writeJSON(w, http.StatusCreated, userResponse{
		ID:        user.ID.String(),
		Username:  user.Username,
		CreatedAt: user.CreatedAt,
	})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCredentials(w, r)
	if !ok {
		h.countLogin("denied")
		return
	}

	token, err := h.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			h.countLogin("denied")
		} else {
			h.countLogin("error")
		}
		h.writeError(w, r, err)
		return
	}

	h.countLogin("success")
	h.writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token})
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	token, err := bearerToken(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.svc.Logout(r.Context(), token); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) currentUser(w http.ResponseWriter, r *http.Request) {
	token, err := bearerToken(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.svc.CurrentUser(r.Context(), token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, userResponse{
		ID:        user.ID.String(),
		Username:  user.Username,
		CreatedAt: user.CreatedAt,
	})
}

// bearerToken extracts the session token from the Authorization header.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", oops.Code("TOKEN_MISSING").
			Wrapf(auth.ErrUnauthenticated, "missing Authorization header")
	}
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", oops.Code("TOKEN_MALFORMED").
			Wrapf(auth.ErrUnauthenticated, "Authorization header must be a Bearer token")
	}
	return token, nil
}

// decodeCredentials parses a username/password request body. On failure
// it writes the error response and reports ok=false.
func (h *handler) decodeCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	var req credentialsRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, r, oops.Code("REQUEST_MALFORMED").
			Wrapf(auth.ErrInvalidInput, "malformed request body"))
		return credentialsRequest{}, false
	}
	return req, true
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		errutil.LogError(h.logger, "write response", err)
	}
}

// writeError maps a service error to an HTTP status and a stable error
// envelope. Internal details never reach the client; they go to the log.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		status int
		body   errorResponse
	)

	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		status = http.StatusBadRequest
		body = errorResponse{Code: "invalid_input", Message: clientMessage(err)}
	case errors.Is(err, auth.ErrConflict):
		status = http.StatusConflict
		body = errorResponse{Code: "conflict", Message: "username is already taken"}
	case errors.Is(err, auth.ErrUnauthenticated):
		status = http.StatusUnauthorized
		body = errorResponse{Code: "unauthenticated", Message: clientMessage(err)}
	case errors.Is(err, auth.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
		body = errorResponse{Code: "storage_unavailable", Message: "service temporarily unavailable"}
	default:
		status = http.StatusInternalServerError
		body = errorResponse{Code: "internal", Message: "internal server error"}
	}

	if status >= http.StatusInternalServerError {
		errutil.LogError(h.logger, "request failed", err)
	} else {
		h.logger.DebugContext(r.Context(), "request rejected",
			"status", status, "code", body.Code)
	}

	h.writeJSON(w, status, body)
}

// clientMessage returns the outermost error message without the wrapped
// cause chain. Validation and authentication messages are written to be
// safe for clients; everything else gets a generic envelope above.
func clientMessage(err error) string {
	msg := err.Error()
	if idx := strings.Index(msg, ": "); idx > 0 {
		return msg[:idx]
	}
	return msg
}

func registrationOutcome(err error) string {
	switch {
	case errors.Is(err, auth.ErrConflict):
		return "conflict"
	case errors.Is(err, auth.ErrInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}

func (h *handler) countRegistration(outcome string) {
	if h.metrics != nil {
		h.metrics.RegistrationsTotal.WithLabelValues(outcome).Inc()
	}
}

func (h *handler) countLogin(outcome string) {
	if h.metrics != nil {
		h.metrics.LoginsTotal.WithLabelValues(outcome).Inc()
	}
}
