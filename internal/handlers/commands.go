package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/otpdesk/internal/commands"
	pkghttp "github.com/BradenHooton/otpdesk/pkg/http"
)

// NewCommandRouter registers a handler for every command variant. Purchase ids
// are the account ids of the purchased credential.
func NewCommandRouter(monitor OTPMonitor, devices DeviceManager, creds CredentialStore) *commands.Router {
	router := commands.NewRouter()

	router.Handle(commands.KindGetOTP, func(ctx context.Context, cmd commands.Command) (any, error) {
		cred, err := loadCredential(ctx, creds, cmd.(commands.GetOTP).PurchaseID)
		if err != nil {
			return nil, err
		}
		sess, err := monitor.Start(ctx, monitorRequest(callerFromContext(ctx), cred))
		if err != nil {
			return nil, err
		}
		return sess.Snapshot(), nil
	})

	router.Handle(commands.KindResendOTP, func(ctx context.Context, cmd commands.Command) (any, error) {
		cred, err := loadCredential(ctx, creds, cmd.(commands.ResendOTP).PurchaseID)
		if err != nil {
			return nil, err
		}
		sess, err := monitor.Resend(ctx, monitorRequest(callerFromContext(ctx), cred))
		if err != nil {
			return nil, err
		}
		return sess.Snapshot(), nil
	})

	router.Handle(commands.KindStopOTP, func(ctx context.Context, cmd commands.Command) (any, error) {
		cred, err := loadCredential(ctx, creds, cmd.(commands.StopOTP).PurchaseID)
		if err != nil {
			return nil, err
		}
		return nil, monitor.Stop(ctx, cred.PhoneNumber)
	})

	router.Handle(commands.KindManageDevices, func(ctx context.Context, cmd commands.Command) (any, error) {
		cred, err := loadCredential(ctx, creds, cmd.(commands.ManageDevices).AccountID)
		if err != nil {
			return nil, err
		}
		list, err := devices.ListDevices(ctx, deviceRequest(callerFromContext(ctx), cred))
		if err != nil {
			return nil, err
		}
		return DeviceListResponse{Devices: list}, nil
	})

	router.Handle(commands.KindTerminateDevice, func(ctx context.Context, cmd commands.Command) (any, error) {
		c := cmd.(commands.TerminateDevice)
		cred, err := loadCredential(ctx, creds, c.AccountID)
		if err != nil {
			return nil, err
		}
		ok, err := devices.Terminate(ctx, deviceRequest(callerFromContext(ctx), cred), c.Handle)
		if err != nil {
			return nil, err
		}
		return TerminateResponse{Terminated: ok}, nil
	})

	router.Handle(commands.KindTerminateAll, func(ctx context.Context, cmd commands.Command) (any, error) {
		cred, err := loadCredential(ctx, creds, cmd.(commands.TerminateAll).AccountID)
		if err != nil {
			return nil, err
		}
		n, err := devices.TerminateAllExceptCurrent(ctx, deviceRequest(callerFromContext(ctx), cred))
		if err != nil {
			return nil, err
		}
		return TerminateResponse{Terminated: true, Count: n}, nil
	})

	return router
}

// CommandHandler accepts callback data from the orchestration layer
type CommandHandler struct {
	router *commands.Router
	logger *slog.Logger
}

// NewCommandHandler creates a new CommandHandler
func NewCommandHandler(router *commands.Router, logger *slog.Logger) *CommandHandler {
	return &CommandHandler{router: router, logger: logger}
}

// CommandRequest represents the request body for dispatching a command
type CommandRequest struct {
	Data string `json:"data" validate:"required,max=128"`
}

// CommandResponse echoes the command kind with its result
type CommandResponse struct {
	Kind   commands.Kind `json:"kind"`
	Result any           `json:"result,omitempty"`
}

// Dispatch handles POST /v1/commands
func (h *CommandHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	caller, err := callerFrom(r)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	cmd, err := commands.Parse(req.Data)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	ctx := commands.WithEndUser(commands.WithActor(r.Context(), caller.Actor), caller.EndUser)
	result, err := h.router.Dispatch(ctx, cmd)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, CommandResponse{Kind: cmd.Kind(), Result: result})
}
