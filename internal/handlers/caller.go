package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/BradenHooton/otpdesk/internal/auth"
	"github.com/BradenHooton/otpdesk/internal/commands"
	"github.com/BradenHooton/otpdesk/internal/models"
	"github.com/BradenHooton/otpdesk/internal/services"
	pkghttp "github.com/BradenHooton/otpdesk/pkg/http"
)

// EndUserHeader names the end user a service token is acting for. Rate limits
// are counted per end user, so every flow that is limited requires it.
const EndUserHeader = pkghttp.EndUserHeader

// callerFrom pairs the token subject with the end user named by the request
func callerFrom(r *http.Request) (services.Caller, error) {
	endUser := r.Header.Get(EndUserHeader)
	if err := validate.Var(endUser, "required,max=128,printascii"); err != nil {
		return services.Caller{}, fmt.Errorf("%s header must name the end user: %w", EndUserHeader, models.ErrBadRequest)
	}
	return services.Caller{Actor: auth.Subject(r), EndUser: endUser}, nil
}

func callerFromContext(ctx context.Context) services.Caller {
	return services.Caller{Actor: commands.Actor(ctx), EndUser: commands.EndUser(ctx)}
}
