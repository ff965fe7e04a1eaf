package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/BradenHooton/otpdesk/internal/auth"
	"github.com/BradenHooton/otpdesk/internal/models"
	"github.com/BradenHooton/otpdesk/internal/services"
	pkghttp "github.com/BradenHooton/otpdesk/pkg/http"
)

// LoginFlow is the interactive credential issuance used by LoginHandler
type LoginFlow interface {
	StartLogin(ctx context.Context, caller services.Caller, phone string) (*models.LoginStart, error)
	SubmitCode(ctx context.Context, caller services.Caller, attemptID, code string) (*models.CodeResult, error)
	Submit2FA(ctx context.Context, caller services.Caller, attemptID, password string) (*models.PasswordResult, error)
	Attempt(attemptID string) (*models.LoginAttemptView, error)
}

// CredentialStore is the part of the credential store the handlers use
type CredentialStore interface {
	Get(ctx context.Context, accountID uuid.UUID) (*models.Credential, error)
	StoreFromLogin(ctx context.Context, in services.CredentialInput, actor string) (*models.Credential, error)
}

// LoginHandler exposes the login flow to orchestration
type LoginHandler struct {
	logins LoginFlow
	creds  CredentialStore
	logger *slog.Logger
}

// NewLoginHandler creates a new LoginHandler
func NewLoginHandler(logins LoginFlow, creds CredentialStore, logger *slog.Logger) *LoginHandler {
	return &LoginHandler{logins: logins, creds: creds, logger: logger}
}

// StartLoginRequest represents the request body for starting a login
type StartLoginRequest struct {
	Phone string `json:"phone" validate:"required,phone"`
}

// SubmitCodeRequest represents the request body for redeeming a code
type SubmitCodeRequest struct {
	Code string `json:"code" validate:"required,otpcode"`
}

// SubmitPasswordRequest represents the request body for the second factor
type SubmitPasswordRequest struct {
	Password string `json:"password" validate:"required,max=256"`
}

// LoginResultResponse is returned when a step of the flow succeeds. Secret is
// omitted when the result was stored, AccountID is set instead.
type LoginResultResponse struct {
	Needs2FA  bool       `json:"needs_2fa"`
	Secret    string     `json:"secret,omitempty"`
	AccountID *uuid.UUID `json:"account_id,omitempty"`
}

// Start handles POST /v1/logins
func (h *LoginHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartLoginRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	caller, err := callerFrom(r)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	start, err := h.logins.StartLogin(r.Context(), caller, req.Phone)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusCreated, start)
}

// Get handles GET /v1/logins/{attemptID}
func (h *LoginHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.logins.Attempt(chi.URLParam(r, "attemptID"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, view)
}

// SubmitCode handles POST /v1/logins/{attemptID}/code
func (h *LoginHandler) SubmitCode(w http.ResponseWriter, r *http.Request) {
	var req SubmitCodeRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	caller, err := callerFrom(r)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	res, err := h.logins.SubmitCode(r.Context(), caller, chi.URLParam(r, "attemptID"), req.Code)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if res.Needs2FA {
		pkghttp.WriteJSON(w, http.StatusOK, LoginResultResponse{Needs2FA: true})
		return
	}
	h.respondWithSecret(w, r, res.PhoneNumber, res.Secret, "")
}

// SubmitPassword handles POST /v1/logins/{attemptID}/password
func (h *LoginHandler) SubmitPassword(w http.ResponseWriter, r *http.Request) {
	var req SubmitPasswordRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	caller, err := callerFrom(r)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	res, err := h.logins.Submit2FA(r.Context(), caller, chi.URLParam(r, "attemptID"), req.Password)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.respondWithSecret(w, r, res.PhoneNumber, res.Secret, req.Password)
}

// respondWithSecret returns the exported secret, or stores it when ?store=true
func (h *LoginHandler) respondWithSecret(w http.ResponseWriter, r *http.Request, phone, secret, secondFactor string) {
	if r.URL.Query().Get("store") != "true" {
		pkghttp.WriteJSON(w, http.StatusOK, LoginResultResponse{Secret: secret})
		return
	}

	cred, err := h.creds.StoreFromLogin(r.Context(), services.CredentialInput{
		PhoneNumber:  phone,
		Secret:       secret,
		SecondFactor: secondFactor,
	}, auth.Subject(r))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, LoginResultResponse{AccountID: &cred.AccountID})
}
