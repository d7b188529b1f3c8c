package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"publish-pipeline/domain/model"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_NotifyFilters(t *testing.T) {
	h := NewPublishHub()
	all := make(chan model.PublishEvent, 1)
	one := make(chan model.PublishEvent, 1)
	h.subscribe(all, "")
	h.subscribe(one, "int-2")

	require.NoError(t, h.Notify(context.Background(), model.PublishEvent{IntegrationID: "int-1"}))
	assert.Len(t, all, 1)
	assert.Len(t, one, 0)

	// full buffer drops instead of blocking
	require.NoError(t, h.Notify(context.Background(), model.PublishEvent{IntegrationID: "int-1"}))
	assert.Len(t, all, 1)

	h.unsubscribe(all)
	h.unsubscribe(one)
	assert.Zero(t, h.Subscribers())
}

func TestHub_Serve(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewPublishHub()

	ctx, cancel := context.WithCancel(context.Background())
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/events?integration=int-1", nil).WithContext(ctx)

	done := make(chan struct{})
	go func() {
		h.Serve(c)
		close(done)
	}()

	require.Eventually(t, func() bool { return h.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.Notify(context.Background(), model.PublishEvent{IntegrationID: "int-1", Provider: "facebook"}))
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	assert.Contains(t, body, ":ok")
	assert.Contains(t, body, "event: publish")
	assert.Contains(t, body, `"provider":"facebook"`)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Zero(t, h.Subscribers())
}
