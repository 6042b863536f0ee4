package observability

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientMetaFromHeaders(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("X-Device-Id", "dev-1")
	r.Header.Set("X-Request-Id", "req-1")
	r.Header.Set("X-Forwarded-For", "10.0.0.7, 10.0.0.1")

	meta := ClientMetaFromRequest(r)

	assert.Equal(t, ClientMeta{DeviceID: "dev-1", RequestID: "req-1", IP: "10.0.0.7"}, meta)
}

func TestClientMetaFallsBackToQueryAndRemoteAddr(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?device_id=dev-2&request_id=req-2", nil)
	r.RemoteAddr = "192.168.1.4:5123"

	meta := ClientMetaFromRequest(r)

	assert.Equal(t, "dev-2", meta.DeviceID)
	assert.Equal(t, "req-2", meta.RequestID)
	assert.Equal(t, "192.168.1.4", meta.IP)
}
