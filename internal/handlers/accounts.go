package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/BradenHooton/otpdesk/internal/auth"
	"github.com/BradenHooton/otpdesk/internal/models"
	"github.com/BradenHooton/otpdesk/internal/services"
	pkghttp "github.com/BradenHooton/otpdesk/pkg/http"
)

// loadCredential resolves an account id to a credential that has a session secret
func loadCredential(ctx context.Context, creds CredentialStore, rawID string) (*models.Credential, error) {
	id, err := parseAccountID(rawID)
	if err != nil {
		return nil, err
	}
	cred, err := creds.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cred.HasSecret() {
		return nil, fmt.Errorf("account has no session secret: %w", models.ErrCredentialInvalid)
	}
	return cred, nil
}

func parseAccountID(rawID string) (uuid.UUID, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("account id %q: %w", rawID, models.ErrBadRequest)
	}
	return id, nil
}

// AccountProvisioner manages the stock of stored credentials
type AccountProvisioner interface {
	Import(ctx context.Context, in services.CredentialInput, actor string) (*models.Credential, error)
	MarkAssigned(ctx context.Context, accountID uuid.UUID) error
	RevealSecret(ctx context.Context, accountID uuid.UUID, actor string, purpose models.CredentialAccess) (string, error)
	RevealSecondFactor(ctx context.Context, accountID uuid.UUID, actor string) (string, error)
}

// LimitResetter clears the rate-limit windows of one subject
type LimitResetter interface {
	Reset(ctx context.Context, subject string) error
}

// AccountHandler exposes credential provisioning to administrators
type AccountHandler struct {
	accounts AccountProvisioner
	limits   LimitResetter
	logger   *slog.Logger
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(accounts AccountProvisioner, limits LimitResetter, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, limits: limits, logger: logger}
}

// ImportAccountRequest represents the request body for importing a session
type ImportAccountRequest struct {
	Phone        string `json:"phone" validate:"required,phone"`
	Secret       string `json:"secret" validate:"required,max=4096"`
	SecondFactor string `json:"second_factor,omitempty" validate:"max=256"`
}

// AccountResponse describes a stored credential without its ciphertext
type AccountResponse struct {
	AccountID   uuid.UUID `json:"account_id"`
	PhoneNumber string    `json:"phone_number"`
	IsAssigned  bool      `json:"is_assigned"`
}

// SecretResponse carries revealed plaintext
type SecretResponse struct {
	Secret       string `json:"secret"`
	SecondFactor string `json:"second_factor,omitempty"`
}

// ResetLimitsRequest names the caller whose rate-limit windows are cleared
type ResetLimitsRequest struct {
	Actor   string `json:"actor" validate:"required,max=128"`
	EndUser string `json:"end_user" validate:"max=128"`
}

// Import handles POST /v1/accounts
func (h *AccountHandler) Import(w http.ResponseWriter, r *http.Request) {
	var req ImportAccountRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	cred, err := h.accounts.Import(r.Context(), services.CredentialInput{
		PhoneNumber:  req.Phone,
		Secret:       req.Secret,
		SecondFactor: req.SecondFactor,
	}, auth.Subject(r))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusCreated, AccountResponse{
		AccountID:   cred.AccountID,
		PhoneNumber: cred.PhoneNumber,
		IsAssigned:  cred.IsAssigned,
	})
}

// Assign handles POST /v1/accounts/{accountID}/assign
func (h *AccountHandler) Assign(w http.ResponseWriter, r *http.Request) {
	id, err := parseAccountID(chi.URLParam(r, "accountID"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if err := h.accounts.MarkAssigned(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Secret handles GET /v1/accounts/{accountID}/secret. The second factor is
// included only with ?second_factor=true; each reveal is audited.
func (h *AccountHandler) Secret(w http.ResponseWriter, r *http.Request) {
	id, err := parseAccountID(chi.URLParam(r, "accountID"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	actor := auth.Subject(r)
	secret, err := h.accounts.RevealSecret(r.Context(), id, actor, models.AccessAdminReveal)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	resp := SecretResponse{Secret: secret}

	if r.URL.Query().Get("second_factor") == "true" {
		sf, err := h.accounts.RevealSecondFactor(r.Context(), id, actor)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		resp.SecondFactor = sf
	}
	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// ResetLimits handles POST /v1/rate-limits/reset
func (h *AccountHandler) ResetLimits(w http.ResponseWriter, r *http.Request) {
	var req ResetLimitsRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	subject := services.Caller{Actor: req.Actor, EndUser: req.EndUser}.RateSubject()
	if err := h.limits.Reset(r.Context(), subject); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "rate limits reset",
		slog.String("by", auth.Subject(r)),
		slog.String("actor", req.Actor),
	)
	w.WriteHeader(http.StatusNoContent)
}
