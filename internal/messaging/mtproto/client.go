package mtproto

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/BradenHooton/otpdesk/internal/messaging"
)

// RPC error types meaning the session itself is no longer valid
var unauthorizedTypes = []string{
	"AUTH_KEY_UNREGISTERED",
	"AUTH_KEY_INVALID",
	"SESSION_REVOKED",
	"SESSION_EXPIRED",
	"USER_DEACTIVATED",
	"USER_DEACTIVATED_BAN",
}

func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if tgerr.Is(err, unauthorizedTypes...) {
		return fmt.Errorf("%s: %w", op, messaging.ErrUnauthorized)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (c *client) RequestCode(ctx context.Context, phoneNumber string) (string, error) {
	sent, err := c.tc.Auth().SendCode(ctx, phoneNumber, auth.SendCodeOptions{})
	if err != nil {
		return "", mapError("send code", err)
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return "", fmt.Errorf("send code: unexpected response %T", sent)
	}
	return code.PhoneCodeHash, nil
}

func (c *client) RedeemCode(ctx context.Context, phoneNumber, codeHash, code string) error {
	_, err := c.tc.Auth().SignIn(ctx, phoneNumber, code, codeHash)
	switch {
	case err == nil:
		c.setAuthed()
		return nil
	case errors.Is(err, auth.ErrPasswordAuthNeeded):
		return messaging.ErrSecondFactorRequired
	case tgerr.Is(err, "PHONE_CODE_INVALID", "PHONE_CODE_EMPTY"):
		return messaging.ErrCodeInvalid
	default:
		return mapError("sign in", err)
	}
}

func (c *client) CheckSecondFactor(ctx context.Context, password string) error {
	_, err := c.tc.Auth().Password(ctx, password)
	switch {
	case err == nil:
		c.setAuthed()
		return nil
	case errors.Is(err, auth.ErrPasswordInvalid), tgerr.Is(err, "PASSWORD_HASH_INVALID"):
		return messaging.ErrPasswordInvalid
	default:
		return mapError("check password", err)
	}
}

func (c *client) ExportSecret(ctx context.Context) (string, error) {
	if !c.isAuthed() {
		return "", messaging.ErrNotAuthenticated
	}
	data, err := c.storage.LoadSession(ctx)
	if err != nil {
		return "", fmt.Errorf("export session: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func (c *client) ReadRecentInboxMessages(ctx context.Context, serviceAccountID int64, limit int) ([]messaging.InboxMessage, error) {
	res, err := c.tc.API().MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  &tg.InputPeerUser{UserID: serviceAccountID},
		Limit: limit,
	})
	if err != nil {
		return nil, mapError("get history", err)
	}

	var raw []tg.MessageClass
	switch m := res.(type) {
	case *tg.MessagesMessages:
		raw = m.Messages
	case *tg.MessagesMessagesSlice:
		raw = m.Messages
	case *tg.MessagesChannelMessages:
		raw = m.Messages
	}

	out := make([]messaging.InboxMessage, 0, len(raw))
	for _, mc := range raw {
		msg, ok := mc.(*tg.Message)
		if !ok || msg.Message == "" {
			continue
		}
		out = append(out, messaging.InboxMessage{
			Text:      msg.Message,
			Timestamp: time.Unix(int64(msg.Date), 0),
		})
	}
	return out, nil
}

func (c *client) authorizations(ctx context.Context) ([]tg.Authorization, error) {
	res, err := c.tc.API().AccountGetAuthorizations(ctx)
	if err != nil {
		return nil, mapError("get authorizations", err)
	}
	return res.Authorizations, nil
}

// captureBaseline records the device sessions present when the connection opened,
// so a later login is recognised as a session that was not there before
func (c *client) captureBaseline(ctx context.Context) error {
	auths, err := c.authorizations(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range auths {
		c.baseline[a.Hash] = struct{}{}
	}
	return nil
}

func (c *client) AuthenticationStatus(ctx context.Context) (messaging.AuthStatus, error) {
	auths, err := c.authorizations(ctx)
	if err != nil {
		return messaging.AuthStatus{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range auths {
		if a.Current {
			continue
		}
		if _, seen := c.baseline[a.Hash]; !seen {
			return messaging.AuthStatus{AuthenticatedElsewhere: true}, nil
		}
	}
	return messaging.AuthStatus{}, nil
}

func (c *client) ListActiveDeviceSessions(ctx context.Context) ([]messaging.DeviceSession, error) {
	auths, err := c.authorizations(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]messaging.DeviceSession, 0, len(auths))
	for _, a := range auths {
		out = append(out, messaging.DeviceSession{
			Handle:     strconv.FormatInt(a.Hash, 10),
			DeviceName: a.DeviceModel,
			Platform:   a.Platform,
			AppName:    a.AppName,
			IsCurrent:  a.Current,
		})
	}
	return out, nil
}

func (c *client) TerminateDeviceSession(ctx context.Context, handle string) (bool, error) {
	hash, err := strconv.ParseInt(handle, 10, 64)
	if err != nil {
		return false, messaging.ErrSessionNotFound
	}
	ok, err := c.tc.API().AccountResetAuthorization(ctx, hash)
	if err != nil {
		if tgerr.Is(err, "HASH_INVALID") {
			return false, messaging.ErrSessionNotFound
		}
		return false, mapError("reset authorization", err)
	}
	return ok, nil
}

func (c *client) TerminateAllOtherSessions(ctx context.Context) (int, error) {
	auths, err := c.authorizations(ctx)
	if err != nil {
		return 0, err
	}
	others := 0
	for _, a := range auths {
		if !a.Current {
			others++
		}
	}
	if others == 0 {
		return 0, nil
	}
	if _, err := c.tc.API().AuthResetAuthorizations(ctx); err != nil {
		return 0, mapError("reset authorizations", err)
	}
	return others, nil
}
