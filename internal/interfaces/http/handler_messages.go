package http

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"disparador/internal/entities"
)

// respond writes a dispatch result with its HTTP status hint.
func respond(c *gin.Context, res entities.DispatchResult) {
	if res.OK {
		c.JSON(http.StatusOK, res)
		return
	}
	status := res.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	c.JSON(status, res)
}

func bindSend(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
		return false
	}
	return true
}

type sendTextRequest struct {
	Instance string `json:"instance" binding:"required"`
	To       string `json:"to" binding:"required"`
	Text     string `json:"text"`
	Footer   string `json:"footer"`
}

func (h *Handler) SendText(c *gin.Context) {
	var req sendTextRequest
	if !bindSend(c, &req) {
		return
	}
	respond(c, h.dispatcher.SendText(c.Request.Context(), tenantScope(c), req.Instance, req.To, req.Text, req.Footer))
}

type sendImageRequest struct {
	Instance string `json:"instance" binding:"required"`
	To       string `json:"to" binding:"required"`
	ImageURL string `json:"imageUrl"`
	Caption  string `json:"caption"`
}

func (h *Handler) SendImage(c *gin.Context) {
	var req sendImageRequest
	if !bindSend(c, &req) {
		return
	}
	respond(c, h.dispatcher.SendImage(c.Request.Context(), tenantScope(c), req.Instance, req.To, req.ImageURL, req.Caption))
}

type sendVideoRequest struct {
	Instance string `json:"instance" binding:"required"`
	To       string `json:"to" binding:"required"`
	VideoURL string `json:"videoUrl"`
	Caption  string `json:"caption"`
}

func (h *Handler) SendVideo(c *gin.Context) {
	var req sendVideoRequest
	if !bindSend(c, &req) {
		return
	}
	respond(c, h.dispatcher.SendVideo(c.Request.Context(), tenantScope(c), req.Instance, req.To, req.VideoURL, req.Caption))
}

type sendMenuRequest struct {
	Instance string `json:"instance" binding:"required"`
	To       string `json:"to" binding:"required"`
	entities.MenuPayload
}

func (h *Handler) SendMenu(c *gin.Context) {
	var req sendMenuRequest
	if !bindSend(c, &req) {
		return
	}
	respond(c, h.dispatcher.SendMenu(c.Request.Context(), tenantScope(c), req.Instance, req.To, req.MenuPayload))
}

type sendButtonsRequest struct {
	Instance string            `json:"instance" binding:"required"`
	To       string            `json:"to" binding:"required"`
	Text     string            `json:"text"`
	Buttons  []entities.Button `json:"buttons"`
	Footer   string            `json:"footer"`
}

func (h *Handler) SendButtons(c *gin.Context) {
	var req sendButtonsRequest
	if !bindSend(c, &req) {
		return
	}
	respond(c, h.dispatcher.SendButtons(c.Request.Context(), tenantScope(c), req.Instance, req.To, req.Text, req.Buttons, req.Footer))
}

func (h *Handler) SendInteractive(c *gin.Context) {
	var req sendButtonsRequest
	if !bindSend(c, &req) {
		return
	}
	respond(c, h.dispatcher.SendInteractive(c.Request.Context(), tenantScope(c), req.Instance, req.To, req.Text, req.Buttons, req.Footer))
}

type sendListRequest struct {
	Instance string `json:"instance" binding:"required"`
	To       string `json:"to" binding:"required"`
	entities.ListPayload
}

func (h *Handler) SendList(c *gin.Context) {
	var req sendListRequest
	if !bindSend(c, &req) {
		return
	}
	respond(c, h.dispatcher.SendList(c.Request.Context(), tenantScope(c), req.Instance, req.To, req.ListPayload))
}

type sendPollRequest struct {
	Instance string `json:"instance" binding:"required"`
	To       string `json:"to" binding:"required"`
	entities.PollPayload
}

func (h *Handler) SendPoll(c *gin.Context) {
	var req sendPollRequest
	if !bindSend(c, &req) {
		return
	}
	respond(c, h.dispatcher.SendPoll(c.Request.Context(), tenantScope(c), req.Instance, req.To, req.PollPayload))
}

type sendCarouselRequest struct {
	Instance string `json:"instance" binding:"required"`
	To       string `json:"to" binding:"required"`
	entities.CarouselPayload
}

func (h *Handler) SendCarousel(c *gin.Context) {
	var req sendCarouselRequest
	if !bindSend(c, &req) {
		return
	}
	respond(c, h.dispatcher.SendCarousel(c.Request.Context(), tenantScope(c), req.Instance, req.To, req.CarouselPayload))
}

type sendUnifiedRequest struct {
	Instance string               `json:"instance" binding:"required"`
	To       string               `json:"to" binding:"required"`
	Type     entities.MessageType `json:"type" binding:"required"`
	Payload  json.RawMessage      `json:"payload"`
}

// SendUnified routes a type-tagged payload through the matching shape.
func (h *Handler) SendUnified(c *gin.Context) {
	var req sendUnifiedRequest
	if !bindSend(c, &req) {
		return
	}
	if len(req.Payload) == 0 {
		req.Payload = json.RawMessage("{}")
	}
	respond(c, h.dispatcher.SendUnified(c.Request.Context(), tenantScope(c), req.Instance, req.To, req.Type, req.Payload))
}
