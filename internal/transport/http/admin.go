package httptransport

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultListLimit = 100

// listSubscribers GET /admin/api/subscribers
func (h *Handler) listSubscribers(c *gin.Context) {
	subs, err := h.subscriptions.List(c.Request.Context())
	if err != nil {
		h.log.Error("list subscribers failed", zap.Error(err))
		InternalError(c, MsgListFailed)
		return
	}

	active := 0
	for _, s := range subs {
		if s.IsActive {
			active++
		}
	}
	Success(c, gin.H{
		"items":  subs,
		"count":  len(subs),
		"active": active,
	})
}

// listSubmissions GET /admin/api/submissions?limit=50
func (h *Handler) listSubmissions(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if err != nil || limit <= 0 {
		limit = defaultListLimit
	}
	if limit > 1000 {
		limit = 1000
	}

	items, err := h.intake.ListSubmissions(c.Request.Context(), limit)
	if err != nil {
		h.log.Error("list submissions failed", zap.Error(err))
		InternalError(c, MsgListFailed)
		return
	}
	Success(c, gin.H{
		"items": items,
		"count": len(items),
	})
}
