package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/otpdesk/internal/models"
	"github.com/BradenHooton/otpdesk/internal/services"
	pkghttp "github.com/BradenHooton/otpdesk/pkg/http"
)

// OTPMonitor watches accounts for login codes
type OTPMonitor interface {
	Start(ctx context.Context, req services.MonitorRequest) (*services.MonitorSession, error)
	Resend(ctx context.Context, req services.MonitorRequest) (*services.MonitorSession, error)
	Snapshot(phone string) (models.MonitorSnapshot, error)
	Stop(ctx context.Context, phone string) error
}

// OTPHandler exposes code monitoring per account
type OTPHandler struct {
	monitor OTPMonitor
	creds   CredentialStore
	logger  *slog.Logger
}

// NewOTPHandler creates a new OTPHandler
func NewOTPHandler(monitor OTPMonitor, creds CredentialStore, logger *slog.Logger) *OTPHandler {
	return &OTPHandler{monitor: monitor, creds: creds, logger: logger}
}

func monitorRequest(caller services.Caller, cred *models.Credential) services.MonitorRequest {
	return services.MonitorRequest{
		Actor:           caller.Actor,
		EndUser:         caller.EndUser,
		AccountID:       cred.AccountID,
		PhoneNumber:     cred.PhoneNumber,
		EncryptedSecret: cred.EncryptedSecret,
	}
}

// Start handles POST /v1/accounts/{accountID}/otp
func (h *OTPHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, h.monitor.Start)
}

// Resend handles POST /v1/accounts/{accountID}/otp/resend
func (h *OTPHandler) Resend(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, h.monitor.Resend)
}

func (h *OTPHandler) start(w http.ResponseWriter, r *http.Request, fn func(context.Context, services.MonitorRequest) (*services.MonitorSession, error)) {
	caller, err := callerFrom(r)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	cred, err := loadCredential(r.Context(), h.creds, chi.URLParam(r, "accountID"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	sess, err := fn(r.Context(), monitorRequest(caller, cred))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusAccepted, sess.Snapshot())
}

// Get handles GET /v1/accounts/{accountID}/otp
func (h *OTPHandler) Get(w http.ResponseWriter, r *http.Request) {
	cred, err := loadCredential(r.Context(), h.creds, chi.URLParam(r, "accountID"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	snap, err := h.monitor.Snapshot(cred.PhoneNumber)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, snap)
}

// Stop handles DELETE /v1/accounts/{accountID}/otp
func (h *OTPHandler) Stop(w http.ResponseWriter, r *http.Request) {
	cred, err := loadCredential(r.Context(), h.creds, chi.URLParam(r, "accountID"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	if err := h.monitor.Stop(r.Context(), cred.PhoneNumber); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
