package ws

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"social-realtime/internal/observability"
)

// ConnInfo is the handshake metadata a connection keeps for lifecycle events.
type ConnInfo struct {
	ConnID      string
	UserID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func newConnInfo(r *http.Request, userID, traceID string) ConnInfo {
	return ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(r),
		IP:          observability.IPFromRequest(r),
		RequestID:   observability.RequestIDFromRequest(r),
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
}

func (i ConnInfo) logAttrs() []any {
	return []any{"conn_id", i.ConnID, "user_id", i.UserID, "device_id", i.DeviceID, "ip", i.IP}
}
