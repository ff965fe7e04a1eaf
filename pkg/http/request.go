package http

import (
	"net"
	"net/http"
	"strings"
)

// EndUserHeader names the end user a service token is acting for
const EndUserHeader = "X-End-User"

// IPConfig holds configuration for IP extraction and validation
type IPConfig struct {
	TrustedProxies []string // CIDR ranges of trusted proxies
}

// ParseTrustedProxies splits a comma separated list of CIDR ranges, dropping blanks
func ParseTrustedProxies(list string) *IPConfig {
	cfg := &IPConfig{}
	for _, cidr := range strings.Split(list, ",") {
		if cidr = strings.TrimSpace(cidr); cidr != "" {
			cfg.TrustedProxies = append(cfg.TrustedProxies, cidr)
		}
	}
	return cfg
}

// ExtractClientIP returns the client address of r. X-Forwarded-For and then
// X-Real-IP are honoured only when the direct peer is a trusted proxy.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := getRemoteAddr(r)

	if config != nil && isTrustedProxy(remoteIP, config.TrustedProxies) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			for _, ip := range strings.Split(xff, ",") {
				ip = strings.TrimSpace(ip)
				if net.ParseIP(ip) != nil {
					return ip
				}
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
			return xri
		}
	}

	return remoteIP
}

func getRemoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

func isTrustedProxy(ip string, trustedProxies []string) bool {
	clientIP := net.ParseIP(ip)
	if clientIP == nil {
		return false
	}
	for _, cidr := range trustedProxies {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if ipNet.Contains(clientIP) {
			return true
		}
	}
	return false
}
