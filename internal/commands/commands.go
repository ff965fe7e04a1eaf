// Package commands turns callback data into typed commands and dispatches them.
//
// Callback data is the short string attached to an interactive button, for
// example "get_otp_42" or "terminate_device_42_7311". Parse is the only place
// that understands that format.
package commands

import (
	"errors"
	"fmt"
	"strings"
)

// Kind names a command variant
type Kind string

const (
	KindGetOTP          Kind = "get_otp"
	KindResendOTP       Kind = "resend_otp"
	KindStopOTP         Kind = "stop_otp"
	KindManageDevices   Kind = "manage_devices"
	KindTerminateDevice Kind = "terminate_device"
	KindTerminateAll    Kind = "terminate_all"
)

// ErrUnknownCommand is returned for callback data that matches no variant
var ErrUnknownCommand = errors.New("unknown command")

// ErrMalformedCommand is returned when a known prefix carries invalid arguments
var ErrMalformedCommand = errors.New("malformed command")

// Command is one of the variants below
type Command interface {
	Kind() Kind
}

// GetOTP starts watching the account behind a purchase for a login code
type GetOTP struct {
	PurchaseID string
}

// ResendOTP restarts observation for a purchase
type ResendOTP struct {
	PurchaseID string
}

// StopOTP cancels observation for a purchase
type StopOTP struct {
	PurchaseID string
}

// ManageDevices lists device sessions of an account
type ManageDevices struct {
	AccountID string
}

// TerminateDevice ends one device session of an account
type TerminateDevice struct {
	AccountID string
	Handle    string
}

// TerminateAll ends every device session except the current one
type TerminateAll struct {
	AccountID string
}

func (GetOTP) Kind() Kind          { return KindGetOTP }
func (ResendOTP) Kind() Kind       { return KindResendOTP }
func (StopOTP) Kind() Kind         { return KindStopOTP }
func (ManageDevices) Kind() Kind   { return KindManageDevices }
func (TerminateDevice) Kind() Kind { return KindTerminateDevice }
func (TerminateAll) Kind() Kind    { return KindTerminateAll }

type parser struct {
	prefix string
	parse  func(args string) (Command, error)
}

// Longer prefixes come first so "terminate_device_" is not read as "term_".
var parsers = []parser{
	{"terminate_device_", parseTerminateDevice},
	{"terminate_all_", single(func(id string) Command { return TerminateAll{AccountID: id} })},
	{"manage_devices_", single(func(id string) Command { return ManageDevices{AccountID: id} })},
	{"resend_otp_", single(func(id string) Command { return ResendOTP{PurchaseID: id} })},
	{"stop_otp_", single(func(id string) Command { return StopOTP{PurchaseID: id} })},
	{"get_otp_", single(func(id string) Command { return GetOTP{PurchaseID: id} })},
	// legacy spellings still present on old messages
	{"term_sess_", parseTerminateDevice},
	{"term_all_", single(func(id string) Command { return TerminateAll{AccountID: id} })},
}

// Parse decodes callback data into a Command
func Parse(data string) (Command, error) {
	data = strings.TrimSpace(data)
	for _, p := range parsers {
		if args, ok := strings.CutPrefix(data, p.prefix); ok {
			cmd, err := p.parse(args)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", strings.TrimSuffix(p.prefix, "_"), err)
			}
			return cmd, nil
		}
	}
	return nil, fmt.Errorf("%q: %w", data, ErrUnknownCommand)
}

func single(build func(id string) Command) func(string) (Command, error) {
	return func(args string) (Command, error) {
		if !validID(args) {
			return nil, ErrMalformedCommand
		}
		return build(args), nil
	}
}

// parseTerminateDevice splits "{accountID}_{handle}". Account ids never contain
// an underscore, handles may.
func parseTerminateDevice(args string) (Command, error) {
	id, handle, ok := strings.Cut(args, "_")
	if !ok || !validID(id) || handle == "" {
		return nil, ErrMalformedCommand
	}
	return TerminateDevice{AccountID: id, Handle: handle}, nil
}

func validID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-':
		default:
			return false
		}
	}
	return true
}

// Encode renders a Command as callback data accepted by Parse
func Encode(cmd Command) string {
	switch c := cmd.(type) {
	case GetOTP:
		return "get_otp_" + c.PurchaseID
	case ResendOTP:
		return "resend_otp_" + c.PurchaseID
	case StopOTP:
		return "stop_otp_" + c.PurchaseID
	case ManageDevices:
		return "manage_devices_" + c.AccountID
	case TerminateDevice:
		return "terminate_device_" + c.AccountID + "_" + c.Handle
	case TerminateAll:
		return "terminate_all_" + c.AccountID
	default:
		return ""
	}
}
