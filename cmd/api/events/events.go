package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	app "github.com/mark3748/jobdesk-go/cmd/api/app"
	metrics "github.com/mark3748/jobdesk-go/cmd/api/metrics"
	"github.com/mark3748/jobdesk-go/internal/jobs"
)

// Channel is the redis pub/sub channel carrying job events.
const Channel = "events"

const (
	heartbeatInterval = 25 * time.Second
	defaultBacklog    = 32
)

// Publisher fans committed job events out over redis. It implements
// jobs.Notifier.
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher returns a Publisher. A nil client yields a no-op publisher.
func NewPublisher(rdb *redis.Client) *Publisher { return &Publisher{rdb: rdb} }

// Publish sends ev to Channel. Failures are logged and counted, never
// returned: the change they describe is already committed.
func (p *Publisher) Publish(ctx context.Context, ev jobs.Event) {
	if p == nil || p.rdb == nil {
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := p.rdb.Publish(context.WithoutCancel(ctx), Channel, b).Err(); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(ev.Type, "error").Inc()
		log.Ctx(ctx).Warn().Err(err).Str("event", ev.Type).Str("job_ref", ev.JobRef).Msg("publish job event")
		return
	}
	metrics.EventsPublishedTotal.WithLabelValues(ev.Type, "ok").Inc()
}

// Stream relays job events to the client as server-sent events. The
// optional job_ref query parameter narrows the feed to one job.
func Stream(rdb *redis.Client) gin.HandlerFunc {
	return stream(rdb, heartbeatInterval, defaultBacklog)
}

// stream buffers at most backlog undelivered events per client; anything
// arriving while the buffer is full is dropped so a slow reader cannot
// stall the subscription.
func stream(rdb *redis.Client, heartbeat time.Duration, backlog int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rdb == nil {
			app.AbortError(c, http.StatusServiceUnavailable, "events_unavailable", "events not available", nil)
			return
		}
		ctx := c.Request.Context()
		sub := rdb.Subscribe(ctx, Channel)
		defer sub.Close()
		if _, err := sub.Receive(ctx); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("subscribe job events")
			app.AbortError(c, http.StatusServiceUnavailable, "events_unavailable", "events not available", nil)
			return
		}
		only := c.Query("job_ref")

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Content-Type-Options", "nosniff")

		queue := make(chan *redis.Message, backlog)
		go func() {
			for msg := range sub.Channel() {
				select {
				case queue <- msg:
				default:
				}
			}
		}()

		hb := time.NewTicker(heartbeat)
		defer hb.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-hb.C:
				fmt.Fprint(c.Writer, ":hb\n\n")
				c.Writer.Flush()
			case msg := <-queue:
				var ev jobs.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				if only != "" && ev.JobRef != only {
					continue
				}
				fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ev.Type, msg.Payload)
				c.Writer.Flush()
			}
		}
	}
}
