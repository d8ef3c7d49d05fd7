package usecases

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	mrand "math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"disparador/internal/entities"
	"disparador/internal/interfaces"
)

const (
	otpLength      = 6
	otpExpiry      = 10 * time.Minute
	otpMaxAttempts = 3
	otpLockout     = 15 * time.Minute

	fallbackAttempts = 4
	fallbackBase     = 3 * time.Second
	fallbackCeiling  = 20 * time.Second
)

// OtpService issues, delivers, and verifies short-lived numeric passcodes.
// Delivery fans out over the configured channels; a failed webhook falls back
// to sending through a locally managed instance.
type OtpService struct {
	store      interfaces.OtpStore
	users      interfaces.UserStore
	settings   interfaces.SettingsStore
	limiter    interfaces.OtpRateLimiter
	dispatcher interfaces.MessageDispatcher
	webhook    interfaces.WebhookSender
	email      interfaces.EmailSender
	sms        interfaces.SMSSender
	log        *zap.Logger

	mu          sync.Mutex
	verifyLocks map[string]*sync.Mutex

	// FallbackDelayFn overrides the inter-attempt delay of the internal
	// delivery fallback. Nil means the default exponential schedule.
	FallbackDelayFn func(attempt int) time.Duration
}

func NewOtpService(
	store interfaces.OtpStore,
	users interfaces.UserStore,
	settings interfaces.SettingsStore,
	limiter interfaces.OtpRateLimiter,
	dispatcher interfaces.MessageDispatcher,
	webhook interfaces.WebhookSender,
	email interfaces.EmailSender,
	sms interfaces.SMSSender,
	log *zap.Logger,
) *OtpService {
	return &OtpService{
		store:       store,
		users:       users,
		settings:    settings,
		limiter:     limiter,
		dispatcher:  dispatcher,
		webhook:     webhook,
		email:       email,
		sms:         sms,
		log:         log,
		verifyLocks: make(map[string]*sync.Mutex),
	}
}

// generateNumericOTP draws length digits from crypto/rand.
func generateNumericOTP(length int) (string, error) {
	const digits = "0123456789"
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = digits[int(b)%len(digits)]
	}
	return string(buf), nil
}

// Issue creates a fresh passcode for the subject and fans delivery out over
// the configured channels. Channel failures never fail issuance; the report
// tells the caller what happened. The plaintext code is returned to the
// caller for the login response path and never persisted.
func (s *OtpService) Issue(ctx context.Context, subject string) (string, *entities.OtpDeliveryReport, error) {
	if s.limiter != nil {
		if err := s.limiter.CanRequest(ctx, subject); err != nil {
			return "", nil, err
		}
	}

	code, err := generateNumericOTP(otpLength)
	if err != nil {
		return "", nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hash otp: %w", err)
	}

	rec := &entities.OtpRecord{
		WhatsApp:  subject,
		OtpHash:   string(hash),
		ExpiresAt: time.Now().Add(otpExpiry),
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		return "", nil, err
	}

	report := s.deliver(ctx, subject, code)
	if !report.AnyDelivered {
		// Operational fallback: with every channel down the code must still
		// reach the operator somehow.
		s.log.Warn("otp delivery failed on all channels",
			zap.String("subject", subject), zap.String("code", code))
	}
	return code, report, nil
}

// deliver runs every enabled channel and aggregates the outcomes.
func (s *OtpService) deliver(ctx context.Context, subject, code string) *entities.OtpDeliveryReport {
	settings, err := s.settings.OtpSettings(ctx)
	if err != nil {
		s.log.Error("otp settings read failed", zap.Error(err))
		settings = &entities.OtpSettings{}
	}

	confirmURL := buildConfirmOtpURL(settings.ConfirmOtpURL, subject, code)
	message := fmt.Sprintf("Seu código de acesso é: %s", code)
	vars := map[string]string{
		"number":            subject,
		"whatsapp":          subject,
		"message":           message,
		"code":              code,
		"code_otp":          code,
		"url_confimar_otp":  confirmURL,
		"url_confirmar_otp": confirmURL,
		"otp_url":           confirmURL,
	}

	report := &entities.OtpDeliveryReport{
		WhatsApp: entities.OtpChannelResult{Detail: "disabled"},
		Email:    entities.OtpChannelResult{Detail: "disabled"},
		SMS:      entities.OtpChannelResult{Detail: "disabled"},
	}

	if settings.WhatsAppEnabled() {
		report.WhatsApp = s.deliverWhatsApp(ctx, settings, subject, code, confirmURL, message, vars)
	}
	if settings.Channels.Email {
		report.Email = s.deliverEmail(ctx, settings, subject, message, confirmURL)
	}
	if settings.Channels.SMS {
		report.SMS = s.deliverSMS(ctx, settings, subject, message)
	}

	report.AnyDelivered = report.WhatsApp.Sent || report.Email.Sent || report.SMS.Sent
	return report
}

func (s *OtpService) deliverWhatsApp(ctx context.Context, settings *entities.OtpSettings, subject, code, confirmURL, message string, vars map[string]string) entities.OtpChannelResult {
	result := entities.OtpChannelResult{Enabled: true, Target: subject}

	if settings.URL != "" {
		payload := s.renderWebhookPayload(settings, subject, message, vars)
		status, err := s.webhook.Post(ctx, settings.URL, settings.Token, payload)
		if err == nil {
			result.Sent = true
			result.Detail = "sent_external"
			return result
		}
		s.log.Warn("otp webhook delivery failed",
			zap.String("subject", subject), zap.Int("status", status), zap.Error(err))
		if s.tryInternalDispatch(ctx, settings, subject, code, confirmURL, message) {
			result.Sent = true
			result.Detail = "sent_internal_fallback"
			return result
		}
		result.Detail = fmt.Sprintf("external_%d_and_internal_failed", status)
		return result
	}

	if s.tryInternalDispatch(ctx, settings, subject, code, confirmURL, message) {
		result.Sent = true
		result.Detail = "sent_internal_fallback"
		return result
	}
	result.Detail = "internal_failed"
	return result
}

// renderWebhookPayload produces the body posted to the external webhook. A
// template may be an object, a JSON string, or absent; placeholders resolve
// against vars. The target number and instance are always injected.
func (s *OtpService) renderWebhookPayload(settings *entities.OtpSettings, subject, message string, vars map[string]string) map[string]any {
	var payload map[string]any

	switch tpl := settings.Template.(type) {
	case map[string]any:
		if applied, ok := applyTemplateVars(tpl, vars).(map[string]any); ok {
			payload = applied
		}
	case string:
		var parsed map[string]any
		if err := json.Unmarshal([]byte(tpl), &parsed); err == nil {
			if applied, ok := applyTemplateVars(parsed, vars).(map[string]any); ok {
				payload = applied
			}
		}
	}
	if payload == nil {
		payload = map[string]any{
			"body":        message,
			"number":      subject,
			"externalKey": "otp",
			"isClosed":    true,
		}
	}

	payload["number"] = subject
	if settings.Instance != "" {
		payload["instance"] = settings.Instance
	}
	return payload
}

// tryInternalDispatch sends the passcode through a locally managed instance:
// rich buttons first, plain text as a degraded retry. Tenant scope starts at
// the subject's own tenant and falls back to the administrative scope when
// the delivery instance belongs to another tenant.
func (s *OtpService) tryInternalDispatch(ctx context.Context, settings *entities.OtpSettings, subject, code, confirmURL, message string) bool {
	instance := settings.Instance
	if instance == "" || s.dispatcher == nil {
		return false
	}

	tenant := entities.SystemTenant
	if user, err := s.users.ByWhatsApp(ctx, subject); err == nil && user != nil && user.TenantID != "" {
		tenant = user.TenantID
	}

	buttons := []entities.Button{
		{Type: "url", Text: "Confirmar acesso", URL: confirmURL},
		{Type: "copy", Text: "Copiar código", CopyCode: code},
	}

	for attempt := 1; attempt <= fallbackAttempts; attempt++ {
		res := s.dispatcher.SendInteractive(ctx, tenant, instance, subject, message, buttons, "")
		if !res.OK && res.Error == entities.ErrForbiddenInstance && tenant != entities.SystemTenant {
			tenant = entities.SystemTenant
			res = s.dispatcher.SendInteractive(ctx, tenant, instance, subject, message, buttons, "")
		}
		if !res.OK {
			res = s.dispatcher.SendText(ctx, tenant, instance, subject, message, "")
		}
		if res.OK {
			return true
		}
		if attempt < fallbackAttempts {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(s.fallbackDelay(attempt)):
			}
		}
	}
	return false
}

// fallbackDelay follows the same exponential-with-jitter shape as the session
// manager's restart backoff, on a shorter schedule.
func (s *OtpService) fallbackDelay(attempt int) time.Duration {
	if s.FallbackDelayFn != nil {
		return s.FallbackDelayFn(attempt)
	}
	delay := fallbackBase << (attempt - 1)
	if delay > fallbackCeiling {
		delay = fallbackCeiling
	}
	jitter := time.Duration(float64(delay) * 0.2 * (mrand.Float64()*2 - 1))
	return delay + jitter
}

func (s *OtpService) deliverEmail(ctx context.Context, settings *entities.OtpSettings, subject, message, confirmURL string) entities.OtpChannelResult {
	result := entities.OtpChannelResult{Enabled: true}

	user, err := s.users.ByWhatsApp(ctx, subject)
	if err != nil || user == nil || user.Email == "" {
		result.Detail = "email_not_found"
		return result
	}
	result.Target = user.Email

	if settings.SMTP.Host == "" {
		result.Detail = "smtp_not_configured"
		return result
	}

	body := fmt.Sprintf("%s\n\nConfirme seu acesso: %s", message, confirmURL)
	if err := s.email.Send(ctx, settings.SMTP, user.Email, "Seu código de acesso", body); err != nil {
		s.log.Warn("otp email delivery failed", zap.String("to", user.Email), zap.Error(err))
		result.Detail = "smtp_send_failed"
		return result
	}
	result.Sent = true
	result.Detail = "sent"
	return result
}

func (s *OtpService) deliverSMS(ctx context.Context, settings *entities.OtpSettings, subject, message string) entities.OtpChannelResult {
	result := entities.OtpChannelResult{Enabled: true, Target: subject}

	if settings.SMS.AuthKey == "" {
		result.Detail = "sms_auth_key_missing"
		return result
	}
	if err := s.sms.Send(ctx, settings.SMS, subject, message); err != nil {
		s.log.Warn("otp sms delivery failed", zap.String("subject", subject), zap.Error(err))
		result.Detail = "sms_send_failed"
		return result
	}
	result.Sent = true
	result.Detail = "sent"
	return result
}

// subjectLock serializes verification per subject so concurrent attempts
// cannot both consume the same code or race the attempt counter.
func (s *OtpService) subjectLock(subject string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.verifyLocks[subject]
	if !ok {
		lock = &sync.Mutex{}
		s.verifyLocks[subject] = lock
	}
	return lock
}

// Verify checks a submitted code against the subject's latest record. An
// active lockout fails fast with *entities.LockoutError regardless of the
// submitted code. A correct match consumes the record; a wrong one advances
// the attempt counter and, at the ceiling, starts the lockout.
func (s *OtpService) Verify(ctx context.Context, subject, code string) (bool, error) {
	lock := s.subjectLock(subject)
	lock.Lock()
	defer lock.Unlock()

	rec, err := s.store.LatestBySubject(ctx, subject)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}

	now := time.Now()
	if rec.LockedUntil != nil && now.Before(*rec.LockedUntil) {
		return false, &entities.LockoutError{Until: *rec.LockedUntil}
	}
	if rec.UsedAt != nil || now.After(rec.ExpiresAt) {
		return false, nil
	}

	if bcrypt.CompareHashAndPassword([]byte(rec.OtpHash), []byte(code)) == nil {
		if err := s.store.MarkUsed(ctx, rec.ID); err != nil {
			return false, err
		}
		return true, nil
	}

	attempts := rec.Attempts + 1
	var lockedUntil *time.Time
	if attempts >= otpMaxAttempts {
		until := now.Add(otpLockout)
		lockedUntil = &until
	}
	if err := s.store.UpdateAttempts(ctx, rec.ID, attempts, lockedUntil); err != nil {
		return false, err
	}
	if lockedUntil != nil {
		return false, &entities.LockoutError{Until: *lockedUntil}
	}
	return false, nil
}
