package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"publish-pipeline/domain/model"

	"github.com/gin-gonic/gin"
)

// Hub streams publish events to SSE subscribers. A subscriber may follow one integration
// or every integration.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan model.PublishEvent]string
}

func NewPublishHub() *Hub {
	return &Hub{subs: make(map[chan model.PublishEvent]string)}
}

// Serve registers an SSE stream. ?integration= narrows it to one integration.
func (h *Hub) Serve(c *gin.Context) {
	filter := c.Query("integration")
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // disable nginx buffering
	c.Status(http.StatusOK)

	ch := make(chan model.PublishEvent, 8)
	h.subscribe(ch, filter)
	defer h.unsubscribe(ch)

	_, _ = c.Writer.Write([]byte(":ok\n\n"))
	c.Writer.Flush()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case evt := <-ch:
			data, _ := json.Marshal(evt)
			_, _ = c.Writer.Write([]byte("event: publish\n"))
			_, _ = c.Writer.Write([]byte("data: "))
			_, _ = c.Writer.Write(data)
			_, _ = c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

func (h *Hub) subscribe(ch chan model.PublishEvent, integrationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[ch] = integrationID
}

func (h *Hub) unsubscribe(ch chan model.PublishEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, ch)
}

// Subscribers returns the number of open streams.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Notify never blocks: a subscriber with a full buffer misses the event.
func (h *Hub) Notify(ctx context.Context, event model.PublishEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch, filter := range h.subs {
		if filter != "" && filter != event.IntegrationID {
			continue
		}
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}
