package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/BradenHooton/otpdesk/internal/models"
	"github.com/BradenHooton/otpdesk/internal/services"
)

func TestOTPHandler_Start(t *testing.T) {
	cred := testCredential()
	var got services.MonitorRequest
	monitor := &MockOTPMonitor{
		StartFunc: func(ctx context.Context, req services.MonitorRequest) (*services.MonitorSession, error) {
			got = req
			return &services.MonitorSession{}, nil
		},
	}
	h := NewOTPHandler(monitor, storeWith(cred), discardLogger())

	url := "/v1/accounts/" + cred.AccountID.String() + "/otp"
	w := serve(http.MethodPost, "/v1/accounts/{accountID}/otp", h.Start, WithSubject(NewTestRequest(t, http.MethodPost, url, nil), "shop-bot"))

	AssertJSONResponse(t, w, http.StatusAccepted, &models.MonitorSnapshot{})
	assert.Equal(t, services.MonitorRequest{
		Actor:           "shop-bot",
		EndUser:         testEndUser,
		AccountID:       cred.AccountID,
		PhoneNumber:     cred.PhoneNumber,
		EncryptedSecret: cred.EncryptedSecret,
	}, got)
}

func TestOTPHandler_StartErrors(t *testing.T) {
	cred := testCredential()
	noSecret := testCredential()
	noSecret.EncryptedSecret = ""

	tests := []struct {
		name      string
		accountID string
		store     CredentialStore
		startErr  error
		status    int
		code      string
	}{
		{"malformed id", "not-a-uuid", storeWith(cred), nil, http.StatusBadRequest, "bad_request"},
		{"unknown account", uuid.NewString(), storeWith(cred), nil, http.StatusNotFound, "not_found"},
		{"no secret", noSecret.AccountID.String(), storeWith(noSecret), nil, http.StatusGone, "credential_invalid"},
		{"rejected secret", cred.AccountID.String(), storeWith(cred), models.ErrCredentialInvalid, http.StatusGone, "credential_invalid"},
		{"upstream down", cred.AccountID.String(), storeWith(cred), models.NewExternalError("open session", assert.AnError), http.StatusBadGateway, "external_service_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			monitor := &MockOTPMonitor{
				StartFunc: func(ctx context.Context, req services.MonitorRequest) (*services.MonitorSession, error) {
					if tt.startErr != nil {
						return nil, tt.startErr
					}
					return &services.MonitorSession{}, nil
				},
			}
			h := NewOTPHandler(monitor, tt.store, discardLogger())
			w := serve(http.MethodPost, "/v1/accounts/{accountID}/otp", h.Start,
				NewTestRequest(t, http.MethodPost, "/v1/accounts/"+tt.accountID+"/otp", nil))
			AssertErrorResponse(t, w, tt.status, tt.code)
		})
	}
}

func TestOTPHandler_Get(t *testing.T) {
	cred := testCredential()
	monitor := &MockOTPMonitor{
		SnapshotFunc: func(phone string) (models.MonitorSnapshot, error) {
			assert.Equal(t, cred.PhoneNumber, phone)
			return models.MonitorSnapshot{LastObservedCode: "48213", AttemptsElapsed: 3, MaxAttempts: 24, Outcome: models.OutcomeRunning}, nil
		},
	}
	h := NewOTPHandler(monitor, storeWith(cred), discardLogger())

	w := serve(http.MethodGet, "/v1/accounts/{accountID}/otp", h.Get,
		NewTestRequest(t, http.MethodGet, "/v1/accounts/"+cred.AccountID.String()+"/otp", nil))
	var snap models.MonitorSnapshot
	AssertJSONResponse(t, w, http.StatusOK, &snap)
	assert.Equal(t, "48213", snap.LastObservedCode)
	assert.Equal(t, models.OutcomeRunning, snap.Outcome)
}

func TestOTPHandler_GetNoMonitor(t *testing.T) {
	cred := testCredential()
	h := NewOTPHandler(&MockOTPMonitor{}, storeWith(cred), discardLogger())

	w := serve(http.MethodGet, "/v1/accounts/{accountID}/otp", h.Get,
		NewTestRequest(t, http.MethodGet, "/v1/accounts/"+cred.AccountID.String()+"/otp", nil))
	AssertErrorResponse(t, w, http.StatusNotFound, "not_found")
}

func TestOTPHandler_ResendAndStop(t *testing.T) {
	cred := testCredential()
	resent, stopped := 0, 0
	monitor := &MockOTPMonitor{
		ResendFunc: func(ctx context.Context, req services.MonitorRequest) (*services.MonitorSession, error) {
			resent++
			return &services.MonitorSession{}, nil
		},
		StopFunc: func(ctx context.Context, phone string) error {
			stopped++
			assert.Equal(t, cred.PhoneNumber, phone)
			return nil
		},
	}
	h := NewOTPHandler(monitor, storeWith(cred), discardLogger())
	base := "/v1/accounts/" + cred.AccountID.String() + "/otp"

	w := serve(http.MethodPost, "/v1/accounts/{accountID}/otp/resend", h.Resend, NewTestRequest(t, http.MethodPost, base+"/resend", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = serve(http.MethodDelete, "/v1/accounts/{accountID}/otp", h.Stop, NewTestRequest(t, http.MethodDelete, base, nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	assert.Equal(t, 1, resent)
	assert.Equal(t, 1, stopped)
}
