package observability

import (
	"net"
	"net/http"
	"strings"
)

// ClientMeta identifies the client behind a request in broker events.
type ClientMeta struct {
	RequestID string
	DeviceID  string
	IP        string
}

func ClientMetaFromRequest(r *http.Request) ClientMeta {
	return ClientMeta{
		RequestID: r.Header.Get("X-Request-Id"),
		DeviceID:  r.Header.Get("X-Device-Id"),
		IP:        clientIP(r),
	}
}

// clientIP prefers the first X-Forwarded-For hop over the socket address.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
