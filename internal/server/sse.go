package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pubky-canva/indexer/internal/metrics"
	"go.uber.org/zap"
)

const (
	// sseRetryMillis is the reconnect hint sent to every new subscriber.
	sseRetryMillis = 5000
	// sseKeepAliveInterval paces comment frames that keep idle connections open.
	sseKeepAliveInterval = 15 * time.Second
)

// handleEvents streams accepted pixels and resizes to the client. A lagged
// subscriber receives a reconnect event and the stream closes; the client is
// expected to refetch the canvas snapshot.
func (h *httpHandler) handleEvents(c *gin.Context) {
	subscriber, cancel := h.broadcaster.Subscribe()
	if subscriber == nil {
		respondError(c, http.StatusServiceUnavailable, "shutting_down", "no longer accepting subscribers")
		return
	}
	defer cancel()

	metrics.SSESubscribers.Inc()
	defer metrics.SSESubscribers.Dec()

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	fmt.Fprintf(c.Writer, "retry: %d\n\n", sseRetryMillis)
	c.Writer.Flush()

	keepAlive := time.NewTicker(sseKeepAliveInterval)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(c.Writer, ": keep-alive\n\n")
			c.Writer.Flush()
		case message, ok := <-subscriber.Stream():
			if !ok {
				return
			}
			if subscriber.Lagged() {
				fmt.Fprint(c.Writer, "event: reconnect\ndata: \n\n")
				c.Writer.Flush()
				return
			}

			var payload any
			if message.Resize != nil {
				payload = message.Resize
			} else {
				payload = message.Pixel
			}
			data, err := json.Marshal(payload)
			if err != nil {
				h.logger.Error("sse payload marshal failed", zap.Error(err))
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", message.EventName(), data)
			c.Writer.Flush()
		}
	}
}
