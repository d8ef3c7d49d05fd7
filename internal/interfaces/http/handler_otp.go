package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"disparador/internal/entities"
	"disparador/internal/usecases"
)

// normalizeSubject strips formatting so the same phone always maps to the
// same passcode record.
func normalizeSubject(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// RequestOtp issues a passcode and reports per-channel delivery. The code
// itself never appears in the response.
func (h *Handler) RequestOtp(c *gin.Context) {
	var req struct {
		WhatsApp string `json:"whatsapp" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || !ValidPhone(req.WhatsApp) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_whatsapp"})
		return
	}
	subject := normalizeSubject(req.WhatsApp)

	_, report, err := h.otp.Issue(c.Request.Context(), subject)
	if err != nil {
		if errors.Is(err, usecases.ErrOtpCooldown) || errors.Is(err, usecases.ErrOtpBlocked) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
			return
		}
		h.log.Error("otp issue failed", zap.String("subject", subject), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "otp_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent", "delivery": report})
}

// VerifyOtp checks a submitted code and, on success, returns a session token.
func (h *Handler) VerifyOtp(c *gin.Context) {
	var req struct {
		WhatsApp string `json:"whatsapp" binding:"required"`
		Code     string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	subject := normalizeSubject(req.WhatsApp)

	ok, err := h.otp.Verify(c.Request.Context(), subject, req.Code)
	if err != nil {
		var lockout *entities.LockoutError
		if errors.As(err, &lockout) {
			c.JSON(http.StatusLocked, gin.H{
				"error": "too_many_attempts_lockout",
				"until": lockout.Until.Format(time.RFC3339),
			})
			return
		}
		h.log.Error("otp verify failed", zap.String("subject", subject), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "otp_verify_failed"})
		return
	}
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"valid": false, "error": "invalid_or_expired_code"})
		return
	}

	token, err := h.signToken(c, subject)
	if err != nil {
		h.log.Error("token sign failed", zap.String("subject", subject), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_sign_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "token": token})
}

func (h *Handler) signToken(c *gin.Context, subject string) (string, error) {
	claims := jwt.MapClaims{
		"whatsapp": subject,
		"role":     "user",
		"iat":      time.Now().Unix(),
		"exp":      time.Now().Add(24 * time.Hour).Unix(),
	}
	if user, err := h.users.ByWhatsApp(c.Request.Context(), subject); err == nil && user != nil {
		if user.TenantID != "" {
			claims["tenant_id"] = user.TenantID
		}
		if user.Role != "" {
			claims["role"] = user.Role
		}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.jwtSecret)
}
