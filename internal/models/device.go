package models

// DeviceSession is one authenticated device on a messaging account
type DeviceSession struct {
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name"`
	Platform    string `json:"platform"`
	AppName     string `json:"app_name,omitempty"`
	IsCurrent   bool   `json:"is_current"`
}
