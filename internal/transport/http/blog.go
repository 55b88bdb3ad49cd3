package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"harpans/site/internal/domain"
	"harpans/site/internal/middleware"
	"harpans/site/internal/service"
)

// subscribe 博客订阅
// POST /blogg/prenumerera/
func (h *Handler) subscribe(c *gin.Context) {
	email := c.PostForm("email")
	res, err := h.subscriptions.Subscribe(c.Request.Context(), email, middleware.ClientAddress(c))
	switch {
	case errors.Is(err, service.ErrEmailRequired), errors.Is(err, domain.ErrInvalidEmail):
		renderAlert(c, http.StatusBadRequest, errorAlert("", MsgSubscribeInvalid))
	case errors.Is(err, service.ErrRateLimited):
		h.subscribeSoft(c)
	case err != nil:
		h.log.Error("subscribe failed", zap.Error(err))
		renderAlert(c, http.StatusInternalServerError, errorAlert(MsgErrorLead, MsgSubscribeFailed))
	default:
		renderAlert(c, http.StatusOK, successAlert(MsgThanks, subscribeThanks(res.Subscriber.Email)))
	}
}

// subscribeSoft 蜜罐与限速共用的应答，与成功不可区分
func (h *Handler) subscribeSoft(c *gin.Context) {
	renderAlert(c, http.StatusOK, successAlert("", MsgSubscribeSoft))
}

type unsubscribePage struct {
	page
	Email string
}

// unsubscribe 通过令牌退订
// GET /blogg/avregistrera/:token/
func (h *Handler) unsubscribe(c *gin.Context) {
	sub, err := h.subscriptions.Unsubscribe(c.Request.Context(), c.Param("token"))
	if errors.Is(err, service.ErrSubscriberNotFound) {
		c.HTML(http.StatusNotFound, "not_found.html", h.page("Sidan kunde inte hittas"))
		return
	}
	if err != nil {
		h.log.Error("unsubscribe failed", zap.Error(err))
		renderAlert(c, http.StatusInternalServerError, errorAlert(MsgErrorLead, MsgSubscribeFailed))
		return
	}

	c.HTML(http.StatusOK, "unsubscribe.html", unsubscribePage{
		page:  h.page("Avregistrerad"),
		Email: sub.Email,
	})
}
