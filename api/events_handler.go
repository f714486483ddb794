package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xraph/taskq/stream"
)

// keepAlive is how often an idle event stream sends a comment line.
const keepAlive = 15 * time.Second

// streamEvents serves lifecycle events as server-sent events. Each topic
// query parameter adds a topic; none means the firehose.
func (a *API) streamEvents(c *gin.Context) {
	topics := c.QueryArray("topic")
	if len(topics) == 0 {
		topics = []string{stream.TopicFirehose}
	}

	subID := fmt.Sprintf("sse-%d", a.streams.Add(1))
	sub := a.broker.Subscribe(subID, topics...)
	defer a.broker.Remove(subID)

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()
	c.Stream(func(w io.Writer) bool {
		select {
		case evt, ok := <-sub.C():
			if !ok {
				return false
			}
			c.SSEvent(string(evt.Type), evt)
			return true
		case <-ticker.C:
			_, err := fmt.Fprint(w, ": keep-alive\n\n")
			return err == nil
		case <-c.Request.Context().Done():
			return false
		}
	})
}
