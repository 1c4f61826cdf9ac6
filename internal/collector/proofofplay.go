package collector

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/skyline-signage/player-core/internal/events"
	"github.com/skyline-signage/player-core/internal/logging"
	"github.com/skyline-signage/player-core/internal/metrics"
)

// proofOfPlayRecord is one submitted stat entry, built from a layout_end
// or widget_end event (§6 "the stats collector subscribes and enqueues
// proof-of-play records").
type proofOfPlayRecord struct {
	ScheduleID string    `json:"scheduleId"`
	LayoutID   string    `json:"layoutId"`
	RegionID   string    `json:"regionId,omitempty"`
	WidgetID   string    `json:"widgetId,omitempty"`
	Type       string    `json:"type"` // "layout" or "widget"
	StartedAt  time.Time `json:"startedAt"`
	DurationMS int64     `json:"durationMs"`
}

// runProofOfPlaySubscriber drains the playback-event bus for the lifetime
// of ctx, buffering *_end events into statsBuf and flushing at
// StatsBatchSize (§5 "the submission batcher bounds payload size per
// call, stats default batch 50").
func (c *Collector) runProofOfPlaySubscriber(ctx context.Context) {
	sub, err := c.bus.Subscribe(ctx)
	if err != nil {
		logging.Component("collector").Error().Err(err).Msg("failed to subscribe to playback event bus")
		return
	}

	flush := time.NewTicker(30 * time.Second)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			c.flushStats(context.Background())
			return
		case ev, ok := <-sub:
			if !ok {
				c.flushStats(context.Background())
				return
			}
			c.handlePlaybackEvent(ctx, ev)
		case <-flush.C:
			c.flushStats(ctx)
		}
	}
}

func (c *Collector) handlePlaybackEvent(ctx context.Context, ev events.PlaybackEvent) {
	metrics.RecordProofOfPlay(string(ev.Type))

	switch ev.Type {
	case events.TypeLayoutEnd:
		c.bufferRecord(proofOfPlayRecord{
			ScheduleID: ev.ScheduleID, LayoutID: ev.LayoutID, Type: "layout",
			StartedAt: ev.Timestamp, DurationMS: ev.DurationMS,
		})
	case events.TypeWidgetEnd:
		c.bufferRecord(proofOfPlayRecord{
			ScheduleID: ev.ScheduleID, LayoutID: ev.LayoutID, RegionID: ev.RegionID,
			WidgetID: ev.WidgetID, Type: "widget",
			StartedAt: ev.Timestamp, DurationMS: ev.DurationMS,
		})
	}
}

func (c *Collector) bufferRecord(rec proofOfPlayRecord) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}

	c.mu.Lock()
	c.statsBuf = append(c.statsBuf, payload)
	due := len(c.statsBuf) >= c.cfg.StatsBatchSize
	c.mu.Unlock()

	if due {
		c.flushStats(context.Background())
	}
}

func (c *Collector) flushStats(ctx context.Context) {
	c.mu.Lock()
	if len(c.statsBuf) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.statsBuf
	c.statsBuf = nil
	c.mu.Unlock()

	records := make([]json.RawMessage, len(batch))
	for i, b := range batch {
		records[i] = b
	}
	body, err := marshalStatsJSON(records)
	if err != nil {
		logging.Component("collector").Error().Err(err).Msg("failed to marshal proof-of-play batch")
		return
	}
	if err := c.client.SubmitStats(ctx, body); err != nil {
		logging.Component("collector").Warn().Err(err).Int("count", len(batch)).Msg("failed to submit proof-of-play batch")
		c.recordFault("collector.submitStats", err)
	}
}

// Log appends one line to the submission log buffer, flushing at
// LogBatchSize (§5 "logs default 100"). The daemon's own zerolog output
// is not tee'd here automatically; callers that want remote log
// forwarding hand lines to this explicitly. The CMS's logLevel setting
// only sets the zerolog level (logging.SetRemoteLevel); Log buffers every
// line it is given, whatever that level.
func (c *Collector) Log(line string) {
	c.mu.Lock()
	c.logBuf = append(c.logBuf, line)
	due := len(c.logBuf) >= c.cfg.LogBatchSize
	batch := c.logBuf
	if due {
		c.logBuf = nil
	}
	c.mu.Unlock()

	if due {
		c.flushLogBatch(context.Background(), batch)
	}
}

func (c *Collector) flushLogBatch(ctx context.Context, batch []string) {
	payload, err := json.Marshal(batch)
	if err != nil {
		return
	}
	if err := c.client.SubmitLog(ctx, payload); err != nil {
		logging.Component("collector").Warn().Err(err).Int("count", len(batch)).Msg("failed to submit log batch")
	}
}
