package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"disparador/internal/entities"
	"disparador/internal/infrastructure"
	"disparador/internal/interfaces"
	"disparador/internal/repository"
	"disparador/internal/usecases"
)

type Handler struct {
	manager    *infrastructure.InstanceManager
	dispatcher *usecases.Dispatcher
	otp        *usecases.OtpService
	quota      *usecases.QuotaEngine
	tenants    *repository.TenantRepository
	users      *repository.UserRepository
	jwtSecret  []byte
	log        *zap.Logger
}

func NewHandler(
	manager *infrastructure.InstanceManager,
	dispatcher *usecases.Dispatcher,
	otp *usecases.OtpService,
	quota *usecases.QuotaEngine,
	tenants *repository.TenantRepository,
	users *repository.UserRepository,
	jwtSecret string,
	log *zap.Logger,
) *Handler {
	return &Handler{
		manager:    manager,
		dispatcher: dispatcher,
		otp:        otp,
		quota:      quota,
		tenants:    tenants,
		users:      users,
		jwtSecret:  []byte(jwtSecret),
		log:        log,
	}
}

func SetupRoutes(r *gin.Engine, h *Handler, middleware *Middleware) {
	r.Use(SecurityHeaders())
	r.Use(RequestSizeLimiter(10 << 20)) // 10MB max request size
	r.Use(middleware.CORSMiddleware())

	// Public Auth Routes
	authGroup := r.Group("/api/auth")
	{
		authGroup.POST("/otp/request", h.RequestOtp)
		authGroup.POST("/otp/verify", h.VerifyOtp)
	}

	// Protected Routes
	api := r.Group("/api")
	api.Use(middleware.AuthRequired())
	api.Use(middleware.RateLimitPerTenant(rate.Limit(10), 20))
	{
		api.POST("/instance/connect", h.ConnectInstance)
		api.GET("/instances", h.ListInstances)
		api.GET("/instance/:name/qr", h.InstanceQR)
		api.GET("/instance/:name/status", h.InstanceStatus)
		api.POST("/instance/:name/logout", h.LogoutInstance)
		api.DELETE("/instance/:name", h.DeleteInstance)

		msg := api.Group("/message")
		{
			msg.POST("/send", h.SendUnified)
			msg.POST("/text", h.SendText)
			msg.POST("/image", h.SendImage)
			msg.POST("/video", h.SendVideo)
			msg.POST("/menu", h.SendMenu)
			msg.POST("/buttons", h.SendButtons)
			msg.POST("/interactive", h.SendInteractive)
			msg.POST("/list", h.SendList)
			msg.POST("/poll", h.SendPoll)
			msg.POST("/carousel", h.SendCarousel)
		}

		api.GET("/usage", h.GetUsage)
	}
}

// tenantScope reads the scope resolved by AuthRequired.
func tenantScope(c *gin.Context) string {
	return c.GetString("tenant_id")
}

// authorizeInstance resolves an instance and enforces ownership. The
// administrative scope reaches everything.
func (h *Handler) authorizeInstance(c *gin.Context, name string) (interfaces.InstanceHandle, bool) {
	inst, ok := h.manager.Get(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": entities.ErrInstanceNotFound})
		return nil, false
	}
	scope := tenantScope(c)
	if scope != entities.SystemTenant && inst.TenantID() != scope {
		c.JSON(http.StatusForbidden, gin.H{"error": entities.ErrForbiddenInstance})
		return nil, false
	}
	return inst, true
}

// ConnectInstance creates or resumes the caller's instance. Tenants are held
// to their configured instance ceiling; reconnecting an existing instance
// never counts against it.
func (h *Handler) ConnectInstance(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || !ValidSlug(req.Name) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_instance_name"})
		return
	}

	scope := tenantScope(c)
	if existing, ok := h.manager.Get(req.Name); ok {
		if scope != entities.SystemTenant && existing.TenantID() != scope {
			c.JSON(http.StatusForbidden, gin.H{"error": entities.ErrForbiddenInstance})
			return
		}
	} else if scope != entities.SystemTenant {
		limit := 1
		if limits, err := h.tenants.SendLimits(c.Request.Context(), scope); err == nil && limits != nil {
			limit = limits.InstanceLimit
		}
		if h.manager.CountByTenant(scope) >= limit {
			c.JSON(http.StatusForbidden, gin.H{"error": "instance_limit_reached"})
			return
		}
	}

	// The pairing flow outlives this request, so the dial must not ride on
	// the request context.
	result, err := h.manager.Create(context.Background(), scope, req.Name)
	if err != nil {
		h.log.Error("instance connect failed", zap.String("instance", req.Name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "connect_failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListInstances returns the caller's instances; the administrative scope
// sees all of them.
func (h *Handler) ListInstances(c *gin.Context) {
	scope := tenantScope(c)
	all := h.manager.List()
	if scope == entities.SystemTenant {
		c.JSON(http.StatusOK, gin.H{"instances": all})
		return
	}
	own := make([]entities.InstanceInfo, 0, len(all))
	for _, info := range all {
		if info.TenantID == scope {
			own = append(own, info)
		}
	}
	c.JSON(http.StatusOK, gin.H{"instances": own})
}

// InstanceQR returns the pending pairing QR as a PNG.
func (h *Handler) InstanceQR(c *gin.Context) {
	name := c.Param("name")
	if _, ok := h.authorizeInstance(c, name); !ok {
		return
	}
	info, ok := h.manager.Info(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": entities.ErrInstanceNotFound})
		return
	}
	if info.State == entities.StateConnected {
		c.String(http.StatusOK, "Already connected")
		return
	}
	if info.QR == "" {
		c.String(http.StatusAccepted, "QR code not yet available. Please wait...")
		return
	}

	png, err := qrcode.Encode(info.QR, qrcode.Medium, 256)
	if err != nil {
		c.String(http.StatusInternalServerError, "Failed to generate QR code")
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) InstanceStatus(c *gin.Context) {
	name := c.Param("name")
	if _, ok := h.authorizeInstance(c, name); !ok {
		return
	}
	info, ok := h.manager.Info(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": entities.ErrInstanceNotFound})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":      info.Name,
		"state":     info.State,
		"connected": info.State == entities.StateConnected,
		"hasQR":     info.QR != "",
		"createdAt": info.CreatedAt,
	})
}

// LogoutInstance terminates the session and erases credentials; the next
// connect requires a fresh QR scan.
func (h *Handler) LogoutInstance(c *gin.Context) {
	name := c.Param("name")
	scope := tenantScope(c)

	tenant := scope
	if inst, ok := h.manager.Get(name); ok {
		if scope != entities.SystemTenant && inst.TenantID() != scope {
			c.JSON(http.StatusForbidden, gin.H{"error": entities.ErrForbiddenInstance})
			return
		}
		tenant = inst.TenantID()
	} else if scope == entities.SystemTenant {
		c.JSON(http.StatusNotFound, gin.H{"error": entities.ErrInstanceNotFound})
		return
	}

	if err := h.manager.Logout(c.Request.Context(), tenant, name); err != nil {
		h.log.Warn("instance logout cleanup failed", zap.String("instance", name), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

// DeleteInstance disconnects and removes the registry entry. Credentials
// stay on disk so a later connect resumes the pairing.
func (h *Handler) DeleteInstance(c *gin.Context) {
	name := c.Param("name")
	inst, ok := h.authorizeInstance(c, name)
	if !ok {
		return
	}
	h.manager.Remove(inst.TenantID(), name)
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

// GetUsage summarizes the caller's consumption against its ceilings.
func (h *Handler) GetUsage(c *gin.Context) {
	scope := tenantScope(c)
	if scope == entities.SystemTenant {
		c.JSON(http.StatusBadRequest, gin.H{"error": "usage requires a tenant scope"})
		return
	}
	usage, err := h.quota.Usage(c.Request.Context(), scope, h.manager.CountByTenant(scope))
	if err != nil {
		h.log.Error("usage read failed", zap.String("tenant", scope), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "usage_unavailable"})
		return
	}
	c.JSON(http.StatusOK, usage)
}
