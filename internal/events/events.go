// Package events carries renderer-emitted playback events
// (layout_start/end, widget_start/end, §6 "Event sinks") from the
// renderer-facing interface to the proof-of-play collector over an
// in-process Watermill bus.
//
// The event envelope and publisher wrapper are adapted from
// cartographus's internal/eventprocessor (events.go's MediaEvent,
// publisher.go's Publisher) scaled down to a single-host gochannel
// pub/sub instead of the teacher's NATS JetStream transport — there is
// no cross-host fan-out to do here (§9 "renderer polls, resolver polls,
// downloader never calls the renderer"), so the durable broker and its
// dedup/poison-queue machinery have no job to do; a bounded in-process
// channel is the whole requirement.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type enumerates the playback event kinds the renderer emits (§6).
type Type string

const (
	TypeLayoutStart Type = "layout_start"
	TypeLayoutEnd   Type = "layout_end"
	TypeWidgetStart Type = "widget_start"
	TypeWidgetEnd   Type = "widget_end"
)

// PlaybackEvent is the canonical event envelope published onto the bus.
type PlaybackEvent struct {
	EventID    string    `json:"eventId"`
	Type       Type      `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	LayoutID   string    `json:"layoutId"`
	ScheduleID string    `json:"scheduleId,omitempty"`
	RegionID   string    `json:"regionId,omitempty"`
	WidgetID   string    `json:"widgetId,omitempty"`
	// DurationMS is set on *_end events: how long the layout/widget
	// actually played, which is what proof-of-play records need (§6
	// "stats collector subscribes and enqueues proof-of-play records").
	DurationMS int64 `json:"durationMs,omitempty"`
}

// NewEvent stamps a fresh event ID and timestamp.
func NewEvent(typ Type, layoutID string) PlaybackEvent {
	return PlaybackEvent{
		EventID:   uuid.NewString(),
		Type:      typ,
		Timestamp: time.Now(),
		LayoutID:  layoutID,
	}
}

// Topic is the single gochannel topic playback events travel on; the bus
// has exactly one producer class (the renderer) and one consumer class
// (proof-of-play), so there is no need for per-event-type topics.
const Topic = "playback-events"
