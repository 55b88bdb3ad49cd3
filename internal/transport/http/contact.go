package httptransport

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"harpans/site/internal/domain"
	"harpans/site/internal/middleware"
	"harpans/site/internal/service"
)

// honeypot 蜜罐字段被填写时视为机器人提交
func (h *Handler) honeypot(c *gin.Context) bool {
	if h.site.HoneypotField == "" {
		return false
	}
	return strings.TrimSpace(c.PostForm(h.site.HoneypotField)) != ""
}

// honeypotGuard 命中蜜罐时直接应答，不进入限速与业务处理
func (h *Handler) honeypotGuard(reply gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.honeypot(c) {
			c.Next()
			return
		}
		h.log.Info("honeypot triggered",
			zap.String("path", c.FullPath()),
			zap.String("client", middleware.ClientAddress(c)),
		)
		reply(c)
		c.Abort()
	}
}

func (h *Handler) contactTrapped(c *gin.Context) {
	c.JSON(http.StatusOK, FormResult{Success: true, Message: MsgContactHoneypot})
}

func (h *Handler) contactThrottled(c *gin.Context) {
	c.JSON(http.StatusOK, FormResult{Success: true, Message: MsgContactThrottled})
}

func (h *Handler) callbackTrapped(c *gin.Context) {
	renderAlert(c, http.StatusOK, successAlert(MsgThanks, MsgCallbackReceived))
}

func (h *Handler) callbackThrottled(c *gin.Context) {
	renderAlert(c, http.StatusOK, successAlert(MsgThanks, MsgCallbackThrottled))
}

// submitContact 联系表单（JSON 响应）
// POST /api/contact/
func (h *Handler) submitContact(c *gin.Context) {
	var form domain.ContactForm
	if err := c.ShouldBindWith(&form, binding.Form); err != nil {
		c.JSON(http.StatusBadRequest, FormResult{Success: false, Message: MsgInvalidPayload})
		return
	}

	res, err := h.intake.SubmitContact(c.Request.Context(), form, middleware.ClientAddress(c))
	if err != nil {
		h.log.Error("contact submission failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, FormResult{Success: false, Message: MsgContactFailed})
		return
	}

	switch {
	case res.Throttled:
		h.contactThrottled(c)
	case !res.Errors.Empty():
		c.JSON(http.StatusBadRequest, FormResult{Success: false, Errors: res.Errors})
	default:
		c.JSON(http.StatusOK, FormResult{Success: true, Message: MsgContactThanks})
	}
}

// requestCallback 回电请求（HTML 片段响应）
// POST /api/callback/
func (h *Handler) requestCallback(c *gin.Context) {
	var req domain.CallbackRequest
	if err := c.ShouldBindWith(&req, binding.Form); err != nil {
		renderAlert(c, http.StatusBadRequest, errorAlert(MsgErrorLead, MsgCallbackMissing))
		return
	}

	throttled, err := h.intake.RequestCallback(c.Request.Context(), req, middleware.ClientAddress(c))
	switch {
	case errors.Is(err, service.ErrCallbackInvalid):
		renderAlert(c, http.StatusBadRequest, errorAlert(MsgErrorLead, MsgCallbackMissing))
	case err != nil:
		h.log.Error("callback request failed", zap.Error(err))
		renderAlert(c, http.StatusInternalServerError, errorAlert(MsgCallbackFailedLead, MsgCallbackFailed))
	case throttled:
		h.callbackThrottled(c)
	default:
		renderAlert(c, http.StatusOK, successAlert(MsgThanks, MsgCallbackThanks))
	}
}
