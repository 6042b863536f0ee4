package observability

import (
	"net"
	"net/http"
	"strings"
)

// ClientMeta identifies the caller behind a relay request.
type ClientMeta struct {
	DeviceID  string
	RequestID string
	IP        string
}

// ClientMetaFromRequest reads caller identity from headers. Browser websocket
// clients cannot set headers, so device_id and request_id query parameters
// are accepted as fallbacks.
func ClientMetaFromRequest(r *http.Request) ClientMeta {
	return ClientMeta{
		DeviceID:  headerOrQuery(r, "X-Device-Id", "device_id"),
		RequestID: headerOrQuery(r, "X-Request-Id", "request_id"),
		IP:        clientIP(r),
	}
}

func headerOrQuery(r *http.Request, header, param string) string {
	if v := r.Header.Get(header); v != "" {
		return v
	}
	return r.URL.Query().Get(param)
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
