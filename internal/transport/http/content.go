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

type aktuelltPage struct {
	page
	Latest   []domain.SourcedFeedItem
	Sections []domain.FeedSectionItems
}

// aktuellt 外部资讯页
// GET /aktuellt/
func (h *Handler) aktuellt(c *gin.Context) {
	sections, latest := h.feeds.Sections(c.Request.Context(), h.feedSections)
	c.HTML(http.StatusOK, "aktuellt.html", aktuelltPage{
		page:     h.page("Aktuellt"),
		Latest:   latest,
		Sections: sections,
	})
}

// instagramFeed GET /api/instagram/
func (h *Handler) instagramFeed(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"posts": h.instagram.Posts(c.Request.Context())})
}

// contentPublished CMS 发布回调
// POST /internal/hooks/published
func (h *Handler) contentPublished(c *gin.Context) {
	var item domain.ContentItem
	if err := c.ShouldBindJSON(&item); err != nil {
		BadRequest(c, MsgInvalidPayload)
		return
	}
	if item.ID == "" {
		BadRequest(c, MsgInvalidPayload)
		return
	}

	report, err := h.notifications.OnContentPublished(c.Request.Context(), item)
	if err != nil {
		log := h.log.With(
			zap.String("post_id", string(item.ID)),
			zap.String("subject", c.GetString(middleware.ContextSubject)),
			zap.Error(err),
		)
		switch {
		case report != nil && report.Status == service.DispatchFailed:
			log.Error("publish notification not delivered")
			ErrorWithData(c, http.StatusBadGateway, MsgTransportFailed, report)
		case errors.Is(err, service.ErrMarkerNotRecorded):
			log.Error("publish notification sent without marker")
			ErrorWithData(c, http.StatusInternalServerError, MsgNotifyFailed, report)
		default:
			log.Error("publish notification failed")
			InternalError(c, MsgInternalError)
		}
		return
	}

	Success(c, report)
}
