package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/otpdesk/internal/cipher"
	"github.com/BradenHooton/otpdesk/internal/commands"
	"github.com/BradenHooton/otpdesk/internal/models"
	pkghttp "github.com/BradenHooton/otpdesk/pkg/http"
)

// writeServiceError maps the error taxonomy onto HTTP responses. Upstream
// messages are passed through verbatim; cipher and unknown failures are not.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var ext *models.ExternalError

	switch {
	case errors.Is(err, models.ErrInvalidCode):
		pkghttp.WriteUnprocessable(w, "invalid_code", "the code is incorrect, check it and try again")
	case errors.Is(err, models.ErrInvalidPassword):
		pkghttp.WriteUnprocessable(w, "invalid_password", "the password is incorrect, try again")
	case errors.Is(err, models.ErrRateLimited):
		pkghttp.WriteTooManyRequests(w, err.Error())
	case errors.Is(err, models.ErrInvalidPhone), errors.Is(err, models.ErrBadRequest),
		errors.Is(err, commands.ErrUnknownCommand), errors.Is(err, commands.ErrMalformedCommand):
		pkghttp.WriteBadRequest(w, err.Error())
	case errors.Is(err, models.ErrAttemptNotFound):
		pkghttp.WriteNotFound(w, "login attempt not found or expired, start again")
	case errors.Is(err, models.ErrMonitorNotFound), errors.Is(err, models.ErrHandleNotFound), errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, err.Error())
	case errors.Is(err, models.ErrAttemptTerminal):
		pkghttp.WriteConflict(w, "login attempt already finished, start again")
	case errors.Is(err, models.ErrAttemptStage), errors.Is(err, models.ErrCurrentSession):
		pkghttp.WriteConflict(w, err.Error())
	case errors.Is(err, models.ErrCredentialInvalid):
		pkghttp.WriteError(w, http.StatusGone, "credential_invalid", "the stored session was rejected and must be issued again through login")
	case errors.Is(err, models.ErrMonitorTimeout):
		pkghttp.WriteError(w, http.StatusGone, "monitor_timeout", "monitoring ended, start it again")
	case errors.As(err, &ext):
		pkghttp.WriteBadGateway(w, ext.Error())
	case errors.Is(err, cipher.ErrCipher):
		logger.Error("cipher failure", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "internal server error, contact support")
	default:
		logger.Error("unhandled service error", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "internal server error")
	}
}
