package entities

import (
	"fmt"
	"time"
)

// OtpRecord is one issued passcode. Only the bcrypt hash is ever stored.
type OtpRecord struct {
	ID          string
	WhatsApp    string
	OtpHash     string
	ExpiresAt   time.Time
	Attempts    int
	LockedUntil *time.Time
	UsedAt      *time.Time
	CreatedAt   time.Time
}

// LockoutError is returned by verification while a lockout window is active,
// regardless of whether the submitted code is correct.
type LockoutError struct {
	Until time.Time
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("too_many_attempts_lockout until %s", e.Until.Format(time.RFC3339))
}

// OtpChannelResult reports one delivery channel's outcome.
type OtpChannelResult struct {
	Enabled bool   `json:"enabled"`
	Sent    bool   `json:"sent"`
	Target  string `json:"target,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// OtpDeliveryReport aggregates per-channel delivery outcomes for one issuance.
// It is ephemeral and never persisted.
type OtpDeliveryReport struct {
	AnyDelivered bool             `json:"anyDelivered"`
	WhatsApp     OtpChannelResult `json:"whatsapp"`
	Email        OtpChannelResult `json:"email"`
	SMS          OtpChannelResult `json:"sms"`
}

// SMTPSettings configures the email delivery channel.
type SMTPSettings struct {
	Host   string `json:"host,omitempty"`
	Port   int    `json:"port,omitempty"`
	Secure bool   `json:"secure,omitempty"`
	User   string `json:"user,omitempty"`
	Pass   string `json:"pass,omitempty"`
	From   string `json:"from,omitempty"`
}

// SMSSettings configures the SMS provider channel.
type SMSSettings struct {
	URL     string `json:"url,omitempty"`
	AuthKey string `json:"authKey,omitempty"`
	Sender  string `json:"sender,omitempty"`
}

// OtpChannels toggles delivery channels. WhatsApp defaults to enabled when
// the settings row is absent or the flag is nil.
type OtpChannels struct {
	WhatsApp *bool `json:"whatsapp,omitempty"`
	Email    bool  `json:"email,omitempty"`
	SMS      bool  `json:"sms,omitempty"`
}

// OtpSettings is the operator-managed delivery configuration, stored as
// JSONB under the global_settings key "otp_config".
type OtpSettings struct {
	URL           string       `json:"url,omitempty"`
	Token         string       `json:"token,omitempty"`
	Template      any          `json:"template,omitempty"`
	ConfirmOtpURL string       `json:"confirmOtpUrl,omitempty"`
	Instance      string       `json:"instance,omitempty"`
	Channels      OtpChannels  `json:"channels,omitempty"`
	SMTP          SMTPSettings `json:"smtp,omitempty"`
	SMS           SMSSettings  `json:"sms,omitempty"`
}

// WhatsAppEnabled reports whether the in-network channel is on.
func (s *OtpSettings) WhatsAppEnabled() bool {
	return s.Channels.WhatsApp == nil || *s.Channels.WhatsApp
}
