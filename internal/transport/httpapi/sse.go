package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"linkrunner/internal/eventbus"
	logx "linkrunner/pkg/logx"
)

const sseBuffer = 32

// events streams the current snapshot, then every bus event, until the
// client goes away. Each frame carries the event type and its JSON payload.
func (s *Server) events(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	ch, unsubscribe := s.deps.Engine.Bus().Subscribe(sseBuffer)
	defer unsubscribe()

	first := s.deps.Engine.Snapshot()
	if err := writeEvent(c.Writer, eventbus.TypeSnapshot, first); err != nil {
		return
	}
	c.Writer.Flush()
	s.log.Debug("sse client connected", logx.String("client_ip", c.ClientIP()))

	hb := time.NewTicker(s.cfg.Heartbeat)
	defer hb.Stop()
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(c.Writer, ev.Type, ev.Data); err != nil {
				s.log.Debug("sse write failed", logx.Err(err))
				return
			}
			c.Writer.Flush()
		case <-hb.C:
			if _, err := fmt.Fprintf(c.Writer, ": heartbeat %s\n\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

func writeEvent(w io.Writer, typ string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", typ, b); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}
