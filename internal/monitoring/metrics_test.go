package monitoring

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()

	m.RecordRateLimit("contact", true)
	m.RecordRateLimit("contact", false)
	m.RecordRateLimit("contact", false)
	m.RecordRateLimitError("callback")
	m.RecordNotificationBatch("sent", 3, 1, 2*time.Second)
	m.RecordFeedCache("skv", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RateLimitDecisions.WithLabelValues("contact", "blocked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitErrors.WithLabelValues("callback")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.NotificationsSent.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsSent.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeedCache.WithLabelValues("skv", "hit")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSubmission("contact", "saved")
		m.RecordRateLimit("contact", true)
		m.RecordNotificationBatch("failed", 0, 0, 0)
		m.RecordPanic()
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.RecordSubmission("callback", "sent")

	rec := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `harpans_form_submissions_total{form="callback",outcome="sent"} 1`)
}
