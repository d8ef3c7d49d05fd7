package interfaces

import (
	"context"
	"time"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"

	"disparador/internal/entities"
)

// TransportSession is one live connection to the chat network.
type TransportSession interface {
	Send(ctx context.Context, to types.JID, msg *waProto.Message) (string, error)
	Upload(ctx context.Context, data []byte, kind whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
	Logout(ctx context.Context) error
	Close()
}

// Transport opens sessions against the chat network. Dial returns the session
// together with its connection-event stream; the stream is closed when the
// session ends.
type Transport interface {
	Dial(ctx context.Context, tenantID, name string) (TransportSession, <-chan entities.ConnectionEvent, error)
	EraseCredentials(tenantID, name string) error
}

// InstanceHandle is a borrowed, read-only view of a managed instance. Callers
// must not hold it beyond one send call.
type InstanceHandle interface {
	TenantID() string
	State() entities.InstanceState
	Session() TransportSession
}

// InstanceProvider resolves live instances by name.
type InstanceProvider interface {
	Get(name string) (InstanceHandle, bool)
}

// QuotaChecker gates and records sends per tenant.
type QuotaChecker interface {
	CheckSend(ctx context.Context, tenantID string, n int) bool
	Increment(ctx context.Context, tenantID string, n int)
}

// UsageStore persists per-period send counters. Increment must be an atomic
// upsert-add on both period keys.
type UsageStore interface {
	Increment(ctx context.Context, tenantID string, day, hour time.Time, n int) error
	DailyCount(ctx context.Context, tenantID string, day time.Time) (int, error)
	HourlyCount(ctx context.Context, tenantID string, hour time.Time) (int, error)
}

// TenantStore reads tenant-configured ceilings and subscription state.
type TenantStore interface {
	SendLimits(ctx context.Context, tenantID string) (*entities.TenantLimits, error)
}

// OtpStore persists issued passcode records.
type OtpStore interface {
	Insert(ctx context.Context, rec *entities.OtpRecord) error
	LatestBySubject(ctx context.Context, whatsapp string) (*entities.OtpRecord, error)
	MarkUsed(ctx context.Context, id string) error
	UpdateAttempts(ctx context.Context, id string, attempts int, lockedUntil *time.Time) error
}

// UserStore resolves a phone-like subject to a registered account.
type UserStore interface {
	ByWhatsApp(ctx context.Context, whatsapp string) (*entities.User, error)
}

// SettingsStore reads operator-managed delivery configuration.
type SettingsStore interface {
	OtpSettings(ctx context.Context) (*entities.OtpSettings, error)
}

// MessageDispatcher is the subset of the dispatch layer the OTP orchestrator
// uses for its internal fallback channel.
type MessageDispatcher interface {
	SendText(ctx context.Context, tenantID, instanceName, to, text, footer string) entities.DispatchResult
	SendInteractive(ctx context.Context, tenantID, instanceName, to, text string, buttons []entities.Button, footer string) entities.DispatchResult
}

// OtpRateLimiter throttles passcode issuance per subject.
type OtpRateLimiter interface {
	CanRequest(ctx context.Context, subject string) error
}

// WebhookSender posts a rendered payload to the external delivery webhook.
// It returns the HTTP status code when a response was received.
type WebhookSender interface {
	Post(ctx context.Context, url, token string, payload any) (int, error)
}

// EmailSender delivers one message through the operator's SMTP settings.
type EmailSender interface {
	Send(ctx context.Context, settings entities.SMTPSettings, to, subject, body string) error
}

// SMSSender delivers one message through the configured SMS gateway.
type SMSSender interface {
	Send(ctx context.Context, settings entities.SMSSettings, to, content string) error
}
