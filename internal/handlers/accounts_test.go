package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/otpdesk/internal/models"
	"github.com/BradenHooton/otpdesk/internal/services"
)

func TestAccountHandler_Import(t *testing.T) {
	id := uuid.New()
	var got services.CredentialInput
	accounts := &MockAccountProvisioner{
		ImportFunc: func(ctx context.Context, in services.CredentialInput, actor string) (*models.Credential, error) {
			got = in
			assert.Equal(t, "admin-panel", actor)
			return &models.Credential{AccountID: id, PhoneNumber: "+15551234567"}, nil
		},
	}
	h := NewAccountHandler(accounts, &MockLimitResetter{}, discardLogger())

	body := ImportAccountRequest{Phone: "+1 555 123 4567", Secret: "session", SecondFactor: "pw"}
	req := WithSubject(NewTestRequest(t, http.MethodPost, "/v1/accounts", body), "admin-panel")
	w := serve(http.MethodPost, "/v1/accounts", h.Import, req)

	var resp AccountResponse
	AssertJSONResponse(t, w, http.StatusCreated, &resp)
	assert.Equal(t, id, resp.AccountID)
	assert.NotContains(t, w.Body.String(), "session")
	assert.Equal(t, services.CredentialInput{PhoneNumber: "+1 555 123 4567", Secret: "session", SecondFactor: "pw"}, got)
}

func TestAccountHandler_ImportValidation(t *testing.T) {
	h := NewAccountHandler(&MockAccountProvisioner{}, &MockLimitResetter{}, discardLogger())

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing secret", ImportAccountRequest{Phone: "+15551234567"}},
		{"local phone", ImportAccountRequest{Phone: "5551234567", Secret: "s"}},
		{"unknown field", map[string]string{"phone": "+15551234567", "secret": "s", "owner": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(http.MethodPost, "/v1/accounts", h.Import, NewTestRequest(t, http.MethodPost, "/v1/accounts", tt.body))
			AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
		})
	}
}

func TestAccountHandler_Assign(t *testing.T) {
	id := uuid.New()
	accounts := &MockAccountProvisioner{
		MarkAssignedFunc: func(ctx context.Context, accountID uuid.UUID) error {
			if accountID != id {
				return models.ErrNotFound
			}
			return nil
		},
	}
	h := NewAccountHandler(accounts, &MockLimitResetter{}, discardLogger())
	pattern := "/v1/accounts/{accountID}/assign"

	w := serve(http.MethodPost, pattern, h.Assign, NewTestRequest(t, http.MethodPost, "/v1/accounts/"+id.String()+"/assign", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = serve(http.MethodPost, pattern, h.Assign, NewTestRequest(t, http.MethodPost, "/v1/accounts/"+uuid.NewString()+"/assign", nil))
	AssertErrorResponse(t, w, http.StatusNotFound, "not_found")

	w = serve(http.MethodPost, pattern, h.Assign, NewTestRequest(t, http.MethodPost, "/v1/accounts/nope/assign", nil))
	AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestAccountHandler_SecretIsAudited(t *testing.T) {
	id := uuid.New()
	var purpose models.CredentialAccess
	secondFactorCalls := 0
	accounts := &MockAccountProvisioner{
		RevealSecretFunc: func(ctx context.Context, accountID uuid.UUID, actor string, p models.CredentialAccess) (string, error) {
			purpose = p
			assert.Equal(t, "admin-panel", actor)
			return "plain-session", nil
		},
		RevealSecondFactorFunc: func(ctx context.Context, accountID uuid.UUID, actor string) (string, error) {
			secondFactorCalls++
			return "pw", nil
		},
	}
	h := NewAccountHandler(accounts, &MockLimitResetter{}, discardLogger())
	pattern := "/v1/accounts/{accountID}/secret"
	url := "/v1/accounts/" + id.String() + "/secret"

	w := serve(http.MethodGet, pattern, h.Secret, WithSubject(NewTestRequest(t, http.MethodGet, url, nil), "admin-panel"))
	var resp SecretResponse
	AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "plain-session", resp.Secret)
	assert.Empty(t, resp.SecondFactor)
	assert.Equal(t, models.AccessAdminReveal, purpose)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Zero(t, secondFactorCalls)

	w = serve(http.MethodGet, pattern, h.Secret, WithSubject(NewTestRequest(t, http.MethodGet, url+"?second_factor=true", nil), "admin-panel"))
	resp = SecretResponse{}
	AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "pw", resp.SecondFactor)
	assert.Equal(t, 1, secondFactorCalls)
}

func TestAccountHandler_ResetLimits(t *testing.T) {
	limits := &MockLimitResetter{}
	h := NewAccountHandler(&MockAccountProvisioner{}, limits, discardLogger())

	req := NewTestRequest(t, http.MethodPost, "/v1/rate-limits/reset", ResetLimitsRequest{Actor: "shop-bot", EndUser: "alice"})
	w := serve(http.MethodPost, "/v1/rate-limits/reset", h.ResetLimits, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	require.Len(t, limits.Subjects, 1)
	assert.Equal(t, services.Caller{Actor: "shop-bot", EndUser: "alice"}.RateSubject(), limits.Subjects[0])

	w = serve(http.MethodPost, "/v1/rate-limits/reset", h.ResetLimits, NewTestRequest(t, http.MethodPost, "/v1/rate-limits/reset", ResetLimitsRequest{}))
	AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
	assert.Len(t, limits.Subjects, 1)
}
