package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"auth/internal/domain"
	"auth/internal/dto"
	"auth/internal/netutil"
	"auth/internal/observability/middleware"
	"auth/internal/service"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 16 << 10

type handler struct {
	auth       service.AuthService
	validate   *validator.Validate
	trustProxy bool
	logger     *slog.Logger
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.auth.Register(r.Context(), req.Username, req.Password); err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.RegisterResponse{Username: req.Username})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	ok, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	if !ok {
		h.logger.Info("login rejected",
			"username", req.Username,
			"ip", netutil.ClientIP(r, h.trustProxy),
			"request_id", middleware.RequestIDFromContext(r.Context()),
		)
		writeJSON(w, http.StatusUnauthorized, dto.LoginResponse{Authenticated: false})
		return
	}
	writeJSON(w, http.StatusOK, dto.LoginResponse{Authenticated: true})
}

func (h *handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ChangePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.auth.ChangePassword(r.Context(), req.Username, req.CurrentPassword, req.NewPassword); err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode reads a bounded JSON body into dst and runs struct validation.
// It writes the 400 itself and reports whether the handler should go on.
func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusBadRequest, "missing field: "+verrs[0].Field())
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request")
		return false
	}
	return true
}

// writeAuthError maps service errors to responses. Operational failures get
// a generic body; the detail only goes to the log.
func (h *handler) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrDuplicateIdentity):
		writeError(w, http.StatusConflict, domain.ErrDuplicateIdentity.Error())
	case errors.Is(err, domain.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, domain.ErrInvalidCredentials.Error())
	case errors.Is(err, domain.ErrCredentialChanged):
		writeError(w, http.StatusConflict, domain.ErrCredentialChanged.Error())
	case errors.Is(err, domain.ErrCredentialNotFound):
		writeError(w, http.StatusNotFound, domain.ErrCredentialNotFound.Error())
	case errors.Is(err, domain.ErrStoreUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		h.logOperational(r, err)
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		h.logOperational(r, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *handler) logOperational(r *http.Request, err error) {
	h.logger.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"ip", netutil.ClientIP(r, h.trustProxy),
		"request_id", middleware.RequestIDFromContext(r.Context()),
		"error", err,
	)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, dto.ErrorResponse{Error: msg})
}
