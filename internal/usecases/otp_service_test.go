package usecases

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"disparador/internal/entities"
	"disparador/internal/infrastructure"
	"disparador/internal/interfaces"
)

type memOtpStore struct {
	recs []*entities.OtpRecord
}

func (m *memOtpStore) Insert(_ context.Context, rec *entities.OtpRecord) error {
	rec.ID = fmt.Sprintf("otp-%d", len(m.recs)+1)
	rec.CreatedAt = time.Now()
	clone := *rec
	m.recs = append(m.recs, &clone)
	return nil
}

func (m *memOtpStore) LatestBySubject(_ context.Context, whatsapp string) (*entities.OtpRecord, error) {
	for i := len(m.recs) - 1; i >= 0; i-- {
		if m.recs[i].WhatsApp == whatsapp {
			clone := *m.recs[i]
			return &clone, nil
		}
	}
	return nil, nil
}

func (m *memOtpStore) MarkUsed(_ context.Context, id string) error {
	for _, rec := range m.recs {
		if rec.ID == id && rec.UsedAt == nil {
			now := time.Now()
			rec.UsedAt = &now
		}
	}
	return nil
}

func (m *memOtpStore) UpdateAttempts(_ context.Context, id string, attempts int, lockedUntil *time.Time) error {
	for _, rec := range m.recs {
		if rec.ID == id {
			rec.Attempts = attempts
			rec.LockedUntil = lockedUntil
		}
	}
	return nil
}

type fakeUserStore map[string]*entities.User

func (f fakeUserStore) ByWhatsApp(_ context.Context, whatsapp string) (*entities.User, error) {
	return f[whatsapp], nil
}

type fakeSettingsStore struct {
	settings *entities.OtpSettings
}

func (f *fakeSettingsStore) OtpSettings(context.Context) (*entities.OtpSettings, error) {
	if f.settings == nil {
		return &entities.OtpSettings{}, nil
	}
	return f.settings, nil
}

type fakeOtpDispatcher struct {
	interactiveResults []entities.DispatchResult
	textResult         entities.DispatchResult
	interactiveCalls   int
	textCalls          int
	tenants            []string
}

func (f *fakeOtpDispatcher) SendInteractive(_ context.Context, tenantID, _, _, _ string, _ []entities.Button, _ string) entities.DispatchResult {
	f.interactiveCalls++
	f.tenants = append(f.tenants, tenantID)
	if len(f.interactiveResults) == 0 {
		return entities.DispatchResult{Error: entities.ErrSendFailed, Status: 502}
	}
	res := f.interactiveResults[0]
	f.interactiveResults = f.interactiveResults[1:]
	return res
}

func (f *fakeOtpDispatcher) SendText(_ context.Context, tenantID, _, _, _, _ string) entities.DispatchResult {
	f.textCalls++
	f.tenants = append(f.tenants, tenantID)
	return f.textResult
}

type fakeWebhook struct {
	status int
	err    error
	calls  int
}

func (f *fakeWebhook) Post(context.Context, string, string, any) (int, error) {
	f.calls++
	return f.status, f.err
}

type fakeEmailSender struct {
	sent []string
	err  error
}

func (f *fakeEmailSender) Send(_ context.Context, _ entities.SMTPSettings, to, _, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to)
	return nil
}

type fakeSMSSender struct {
	sent []string
	err  error
}

func (f *fakeSMSSender) Send(_ context.Context, _ entities.SMSSettings, to, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to)
	return nil
}

type blockedLimiter struct{}

func (blockedLimiter) CanRequest(context.Context, string) error { return ErrOtpBlocked }

type otpFixture struct {
	store      *memOtpStore
	users      fakeUserStore
	settings   *fakeSettingsStore
	dispatcher *fakeOtpDispatcher
	webhook    *fakeWebhook
	email      *fakeEmailSender
	sms        *fakeSMSSender
	svc        *OtpService
}

func newOtpFixture(settings *entities.OtpSettings, sender interfaces.WebhookSender) *otpFixture {
	f := &otpFixture{
		store:      &memOtpStore{},
		users:      fakeUserStore{},
		settings:   &fakeSettingsStore{settings: settings},
		dispatcher: &fakeOtpDispatcher{},
		webhook:    &fakeWebhook{status: 200},
		email:      &fakeEmailSender{},
		sms:        &fakeSMSSender{},
	}
	if sender == nil {
		sender = f.webhook
	}
	f.svc = NewOtpService(f.store, f.users, f.settings, nil, f.dispatcher, sender, f.email, f.sms, zap.NewNop())
	f.svc.FallbackDelayFn = func(int) time.Duration { return 0 }
	return f
}

func boolPtr(b bool) *bool { return &b }

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	f := newOtpFixture(&entities.OtpSettings{
		Channels: entities.OtpChannels{WhatsApp: boolPtr(false)},
	}, nil)
	ctx := context.Background()
	subject := "5511999999999"

	code, report, err := f.svc.Issue(ctx, subject)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), code)
	assert.False(t, report.AnyDelivered)
	assert.Equal(t, "disabled", report.WhatsApp.Detail)

	rec, err := f.store.LatestBySubject(ctx, subject)
	require.NoError(t, err)
	assert.NotEqual(t, code, rec.OtpHash, "plaintext must never be stored")

	ok, err := f.svc.Verify(ctx, subject, code)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.Verify(ctx, subject, code)
	require.NoError(t, err)
	assert.False(t, ok, "a consumed code must not verify twice")
}

func TestVerifyAttemptCeilingLocksOut(t *testing.T) {
	f := newOtpFixture(&entities.OtpSettings{
		Channels: entities.OtpChannels{WhatsApp: boolPtr(false)},
	}, nil)
	ctx := context.Background()
	subject := "5511988887777"

	code, _, err := f.svc.Issue(ctx, subject)
	require.NoError(t, err)

	for i := 0; i < otpMaxAttempts-1; i++ {
		ok, verr := f.svc.Verify(ctx, subject, "000000")
		assert.False(t, ok)
		assert.NoError(t, verr)
	}

	ok, err := f.svc.Verify(ctx, subject, "000000")
	assert.False(t, ok)
	var lockout *entities.LockoutError
	require.ErrorAs(t, err, &lockout)
	assert.WithinDuration(t, time.Now().Add(otpLockout), lockout.Until, 5*time.Second)

	// Even the correct code is rejected while locked out.
	ok, err = f.svc.Verify(ctx, subject, code)
	assert.False(t, ok)
	require.ErrorAs(t, err, &lockout)
}

func TestVerifyExpiredCode(t *testing.T) {
	f := newOtpFixture(&entities.OtpSettings{
		Channels: entities.OtpChannels{WhatsApp: boolPtr(false)},
	}, nil)
	ctx := context.Background()
	subject := "5511977776666"

	code, _, err := f.svc.Issue(ctx, subject)
	require.NoError(t, err)
	f.store.recs[0].ExpiresAt = time.Now().Add(-time.Minute)

	ok, err := f.svc.Verify(ctx, subject, code)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWebhookSuccessReportsExternal(t *testing.T) {
	f := newOtpFixture(&entities.OtpSettings{
		URL:      "https://hooks.example.com/otp",
		Instance: "otp-main",
	}, nil)

	_, report, err := f.svc.Issue(context.Background(), "5511966665555")
	require.NoError(t, err)
	assert.True(t, report.AnyDelivered)
	assert.True(t, report.WhatsApp.Sent)
	assert.Equal(t, "sent_external", report.WhatsApp.Detail)
	assert.Equal(t, 1, f.webhook.calls)
	assert.Zero(t, f.dispatcher.interactiveCalls, "no fallback on webhook success")
}

func TestWebhookFailureFallsBackToInternal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newOtpFixture(&entities.OtpSettings{
		URL:      srv.URL,
		Instance: "otp-main",
	}, infrastructure.NewHTTPWebhookSender())
	f.dispatcher.interactiveResults = []entities.DispatchResult{{OK: true, MessageID: "WAMID-9"}}

	_, report, err := f.svc.Issue(context.Background(), "5511955554444")
	require.NoError(t, err)
	assert.True(t, report.WhatsApp.Sent)
	assert.Equal(t, "sent_internal_fallback", report.WhatsApp.Detail)
	assert.Equal(t, 1, f.dispatcher.interactiveCalls)
}

func TestInternalFallbackRetriesAsSystemOnForbidden(t *testing.T) {
	f := newOtpFixture(&entities.OtpSettings{
		Instance: "otp-main",
	}, nil)
	subject := "5511944443333"
	tenant := uuid.NewString()
	f.users[subject] = &entities.User{WhatsApp: subject, TenantID: tenant}
	f.dispatcher.interactiveResults = []entities.DispatchResult{
		{Error: entities.ErrForbiddenInstance, Status: 403},
		{OK: true, MessageID: "WAMID-3"},
	}

	_, report, err := f.svc.Issue(context.Background(), subject)
	require.NoError(t, err)
	assert.True(t, report.WhatsApp.Sent)
	require.Len(t, f.dispatcher.tenants, 2)
	assert.Equal(t, tenant, f.dispatcher.tenants[0])
	assert.Equal(t, entities.SystemTenant, f.dispatcher.tenants[1])
}

func TestEmailChannel(t *testing.T) {
	subject := "5511933332222"

	t.Run("sent", func(t *testing.T) {
		f := newOtpFixture(&entities.OtpSettings{
			Channels: entities.OtpChannels{WhatsApp: boolPtr(false), Email: true},
			SMTP:     entities.SMTPSettings{Host: "smtp.example.com", Port: 587},
		}, nil)
		f.users[subject] = &entities.User{WhatsApp: subject, Email: "user@example.com"}

		_, report, err := f.svc.Issue(context.Background(), subject)
		require.NoError(t, err)
		assert.True(t, report.Email.Sent)
		assert.Equal(t, "user@example.com", report.Email.Target)
		assert.Equal(t, []string{"user@example.com"}, f.email.sent)
	})

	t.Run("no registered email", func(t *testing.T) {
		f := newOtpFixture(&entities.OtpSettings{
			Channels: entities.OtpChannels{WhatsApp: boolPtr(false), Email: true},
			SMTP:     entities.SMTPSettings{Host: "smtp.example.com"},
		}, nil)

		_, report, err := f.svc.Issue(context.Background(), subject)
		require.NoError(t, err)
		assert.False(t, report.Email.Sent)
		assert.Equal(t, "email_not_found", report.Email.Detail)
	})

	t.Run("smtp not configured", func(t *testing.T) {
		f := newOtpFixture(&entities.OtpSettings{
			Channels: entities.OtpChannels{WhatsApp: boolPtr(false), Email: true},
		}, nil)
		f.users[subject] = &entities.User{WhatsApp: subject, Email: "user@example.com"}

		_, report, err := f.svc.Issue(context.Background(), subject)
		require.NoError(t, err)
		assert.False(t, report.Email.Sent)
		assert.Equal(t, "smtp_not_configured", report.Email.Detail)
	})
}

func TestSMSChannel(t *testing.T) {
	subject := "5511922221111"

	t.Run("sent", func(t *testing.T) {
		f := newOtpFixture(&entities.OtpSettings{
			Channels: entities.OtpChannels{WhatsApp: boolPtr(false), SMS: true},
			SMS:      entities.SMSSettings{URL: "https://sms.example.com", AuthKey: "key"},
		}, nil)

		_, report, err := f.svc.Issue(context.Background(), subject)
		require.NoError(t, err)
		assert.True(t, report.SMS.Sent)
		assert.Equal(t, []string{subject}, f.sms.sent)
	})

	t.Run("auth key missing", func(t *testing.T) {
		f := newOtpFixture(&entities.OtpSettings{
			Channels: entities.OtpChannels{WhatsApp: boolPtr(false), SMS: true},
		}, nil)

		_, report, err := f.svc.Issue(context.Background(), subject)
		require.NoError(t, err)
		assert.False(t, report.SMS.Sent)
		assert.Equal(t, "sms_auth_key_missing", report.SMS.Detail)
	})
}

func TestRateLimiterBlocksIssuance(t *testing.T) {
	f := newOtpFixture(nil, nil)
	f.svc = NewOtpService(f.store, f.users, f.settings, blockedLimiter{}, f.dispatcher, f.webhook, f.email, f.sms, zap.NewNop())

	_, _, err := f.svc.Issue(context.Background(), "5511911110000")
	assert.ErrorIs(t, err, ErrOtpBlocked)
	assert.Empty(t, f.store.recs, "a throttled request must not mint a record")
}
