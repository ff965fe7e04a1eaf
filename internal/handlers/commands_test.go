package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/otpdesk/internal/commands"
	"github.com/BradenHooton/otpdesk/internal/models"
	"github.com/BradenHooton/otpdesk/internal/services"
)

func newCommandFixture(cred *models.Credential, monitor *MockOTPMonitor, devices *MockDeviceManager) *CommandHandler {
	return NewCommandHandler(NewCommandRouter(monitor, devices, storeWith(cred)), discardLogger())
}

func dispatch(t *testing.T, h *CommandHandler, data string) *httpResult {
	t.Helper()
	req := WithSubject(NewTestRequest(t, http.MethodPost, "/v1/commands", CommandRequest{Data: data}), "shop-bot")
	w := serve(http.MethodPost, "/v1/commands", h.Dispatch, req)
	return &httpResult{status: w.Code, body: w.Body.Bytes()}
}

type httpResult struct {
	status int
	body   []byte
}

func TestCommandHandler_GetOTP(t *testing.T) {
	cred := testCredential()
	var actor, endUser string
	monitor := &MockOTPMonitor{
		StartFunc: func(ctx context.Context, req services.MonitorRequest) (*services.MonitorSession, error) {
			actor, endUser = req.Actor, req.EndUser
			return &services.MonitorSession{}, nil
		},
	}
	h := newCommandFixture(cred, monitor, &MockDeviceManager{})

	res := dispatch(t, h, commands.Encode(commands.GetOTP{PurchaseID: cred.AccountID.String()}))
	require.Equal(t, http.StatusOK, res.status)

	var resp struct {
		Kind commands.Kind `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(res.body, &resp))
	assert.Equal(t, commands.KindGetOTP, resp.Kind)
	assert.Equal(t, "shop-bot", actor)
	assert.Equal(t, testEndUser, endUser)
}

func TestCommandHandler_RequiresEndUser(t *testing.T) {
	cred := testCredential()
	monitor := &MockOTPMonitor{
		StartFunc: func(ctx context.Context, req services.MonitorRequest) (*services.MonitorSession, error) {
			t.Fatal("monitor started without an end user")
			return nil, nil
		},
	}
	h := newCommandFixture(cred, monitor, &MockDeviceManager{})

	req := WithSubject(NewTestRequest(t, http.MethodPost, "/v1/commands", CommandRequest{Data: commands.Encode(commands.GetOTP{PurchaseID: cred.AccountID.String()})}), "shop-bot")
	req.Header.Del(EndUserHeader)
	w := serve(http.MethodPost, "/v1/commands", h.Dispatch, req)
	AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestCommandHandler_TerminateDevice(t *testing.T) {
	cred := testCredential()
	var handle string
	devices := &MockDeviceManager{
		TerminateFunc: func(ctx context.Context, req services.DeviceRequest, h string) (bool, error) {
			handle = h
			return true, nil
		},
	}
	h := newCommandFixture(cred, &MockOTPMonitor{}, devices)

	res := dispatch(t, h, "terminate_device_"+cred.AccountID.String()+"_8812")
	assert.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "8812", handle)
}

func TestCommandHandler_AllKindsRegistered(t *testing.T) {
	cred := testCredential()
	h := newCommandFixture(cred, &MockOTPMonitor{}, &MockDeviceManager{})
	id := cred.AccountID.String()

	for _, cmd := range []commands.Command{
		commands.GetOTP{PurchaseID: id},
		commands.ResendOTP{PurchaseID: id},
		commands.StopOTP{PurchaseID: id},
		commands.ManageDevices{AccountID: id},
		commands.TerminateDevice{AccountID: id, Handle: "1"},
		commands.TerminateAll{AccountID: id},
	} {
		res := dispatch(t, h, commands.Encode(cmd))
		assert.Equal(t, http.StatusOK, res.status, "kind %s", cmd.Kind())
	}
}

func TestCommandHandler_BadData(t *testing.T) {
	h := newCommandFixture(testCredential(), &MockOTPMonitor{}, &MockDeviceManager{})

	assert.Equal(t, http.StatusBadRequest, dispatch(t, h, "btn_main_menu").status)
	assert.Equal(t, http.StatusBadRequest, dispatch(t, h, "terminate_device_x").status)
	assert.Equal(t, http.StatusBadRequest, dispatch(t, h, "get_otp_42").status, "purchase id must be an account id")
}
