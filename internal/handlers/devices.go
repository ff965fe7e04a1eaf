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

// DeviceManager lists and terminates device sessions
type DeviceManager interface {
	ListDevices(ctx context.Context, req services.DeviceRequest) ([]models.DeviceSession, error)
	Terminate(ctx context.Context, req services.DeviceRequest, handle string) (bool, error)
	TerminateAllExceptCurrent(ctx context.Context, req services.DeviceRequest) (int, error)
}

// DeviceHandler exposes device session management per account
type DeviceHandler struct {
	devices DeviceManager
	creds   CredentialStore
	logger  *slog.Logger
}

// NewDeviceHandler creates a new DeviceHandler
func NewDeviceHandler(devices DeviceManager, creds CredentialStore, logger *slog.Logger) *DeviceHandler {
	return &DeviceHandler{devices: devices, creds: creds, logger: logger}
}

// DeviceListResponse lists the device sessions of an account
type DeviceListResponse struct {
	Devices []models.DeviceSession `json:"devices"`
}

// TerminateResponse reports the outcome of a termination
type TerminateResponse struct {
	Terminated bool `json:"terminated"`
	Count      int  `json:"count,omitempty"`
}

func deviceRequest(caller services.Caller, cred *models.Credential) services.DeviceRequest {
	return services.DeviceRequest{
		Actor:           caller.Actor,
		EndUser:         caller.EndUser,
		AccountID:       cred.AccountID,
		PhoneNumber:     cred.PhoneNumber,
		EncryptedSecret: cred.EncryptedSecret,
	}
}

func (h *DeviceHandler) request(r *http.Request) (services.DeviceRequest, error) {
	caller, err := callerFrom(r)
	if err != nil {
		return services.DeviceRequest{}, err
	}
	cred, err := loadCredential(r.Context(), h.creds, chi.URLParam(r, "accountID"))
	if err != nil {
		return services.DeviceRequest{}, err
	}
	return deviceRequest(caller, cred), nil
}

// List handles GET /v1/accounts/{accountID}/devices
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	req, err := h.request(r)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	devices, err := h.devices.ListDevices(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, DeviceListResponse{Devices: devices})
}

// Terminate handles DELETE /v1/accounts/{accountID}/devices/{handle}
func (h *DeviceHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	req, err := h.request(r)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	ok, err := h.devices.Terminate(r.Context(), req, chi.URLParam(r, "handle"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, TerminateResponse{Terminated: ok})
}

// TerminateOthers handles POST /v1/accounts/{accountID}/devices/terminate-others
func (h *DeviceHandler) TerminateOthers(w http.ResponseWriter, r *http.Request) {
	req, err := h.request(r)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	n, err := h.devices.TerminateAllExceptCurrent(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, TerminateResponse{Terminated: true, Count: n})
}
