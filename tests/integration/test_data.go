//go:build integration

package integration

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/BradenHooton/otpdesk/internal/messaging"
)

var phoneSeq int64

// TestPhone returns a unique E.164 phone number per call
func TestPhone() string {
	n := atomic.AddInt64(&phoneSeq, 1)
	return fmt.Sprintf("+1555%07d", (time.Now().Unix()+n)%10000000)
}

// SampleDevices lists three sessions with handle "2" as the caller's own
func SampleDevices() []messaging.DeviceSession {
	return []messaging.DeviceSession{
		{Handle: "1", DeviceName: "Pixel 8", Platform: "android", AppName: "Telegram Android"},
		{Handle: "2", DeviceName: "otpdesk", Platform: "server", IsCurrent: true},
		{Handle: "3", DeviceName: "MacBook", Platform: "macos", AppName: "Telegram Desktop"},
	}
}
