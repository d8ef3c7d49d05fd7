package entities

import "time"

// InstanceState is the lifecycle state of one WhatsApp instance.
type InstanceState string

const (
	StateConnecting   InstanceState = "connecting"
	StateQRPending    InstanceState = "qr_pending"
	StateConnected    InstanceState = "connected"
	StateDisconnected InstanceState = "disconnected"
)

// Close reason codes reported by the transport on connection close.
// Values mirror the WhatsApp stream error codes.
const (
	CloseLoggedOut       = 401
	CloseReplaced        = 440
	CloseRestartRequired = 515
)

// ConnectionState is the coarse transport-level connection signal.
type ConnectionState string

const (
	ConnOpen       ConnectionState = "open"
	ConnClose      ConnectionState = "close"
	ConnConnecting ConnectionState = "connecting"
)

// ConnectionEvent is one item on a transport session's event stream.
type ConnectionEvent struct {
	State     ConnectionState
	QR        string
	CloseCode int
}

// InstanceInfo is a read-only snapshot of a managed instance.
type InstanceInfo struct {
	Name      string        `json:"name"`
	TenantID  string        `json:"tenant_id"`
	State     InstanceState `json:"state"`
	QR        string        `json:"qr,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}
