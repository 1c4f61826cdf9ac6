package synccoord

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/skyline-signage/player-core/internal/logging"
)

// Topic is the single gochannel topic handshake announcements travel on.
const Topic = "synccoord-announce"

// Config tunes the handshake's timing. Defaults are generous since this
// runs over an in-process channel, not a lossy network.
type Config struct {
	MemberID         string
	AnnounceInterval time.Duration
	SuspectTimeout   time.Duration
}

// DefaultConfig returns the handshake's default cadence.
func DefaultConfig(memberID string) Config {
	return Config{
		MemberID:         memberID,
		AnnounceInterval: 2 * time.Second,
		SuspectTimeout:   6 * time.Second,
	}
}

type announceMsg struct {
	ID          string      `json:"id"`
	State       MemberState `json:"state"`
	Incarnation uint64      `json:"incarnation"`
}

// Coordinator runs the lead-election handshake: every participant
// periodically announces itself, and the member with the lowest ID among
// those seen recently is lead. It is a suture.Service so the daemon's
// supervisor can restart it like any other long-running unit.
type Coordinator struct {
	cfg    Config
	pubSub *gochannel.GoChannel

	mu          sync.RWMutex
	incarnation uint64
	members     map[string]*Member
	isLead      bool

	onLeadChange func(isLead bool)
}

// NewCoordinator constructs a handshake participant. onLeadChange, if
// non-nil, is invoked whenever this participant's lead status flips.
func NewCoordinator(cfg Config, onLeadChange func(isLead bool)) *Coordinator {
	if cfg.AnnounceInterval <= 0 {
		cfg.AnnounceInterval = 2 * time.Second
	}
	if cfg.SuspectTimeout <= 0 {
		cfg.SuspectTimeout = 6 * time.Second
	}
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            64,
		Persistent:                     false,
		BlockPublishUntilSubscriberAck: false,
	}, watermillLogger{})
	c := &Coordinator{
		cfg:     cfg,
		pubSub:  pubSub,
		members: make(map[string]*Member),
	}
	c.members[cfg.MemberID] = newMember(cfg.MemberID)
	return c
}

// Serve implements suture.Service: announce on a timer, listen for peer
// announcements, and sweep stale members until ctx is cancelled.
func (c *Coordinator) Serve(ctx context.Context) error {
	sub, err := c.pubSub.Subscribe(ctx, Topic)
	if err != nil {
		return err
	}

	announce := time.NewTicker(c.cfg.AnnounceInterval)
	defer announce.Stop()
	sweep := time.NewTicker(c.cfg.SuspectTimeout / 2)
	defer sweep.Stop()

	c.publishAnnounce(ctx)

	for {
		select {
		case <-ctx.Done():
			c.publishLeft(context.Background())
			return ctx.Err()
		case <-announce.C:
			c.publishAnnounce(ctx)
		case <-sweep.C:
			c.sweepStale()
		case msg, ok := <-sub:
			if !ok {
				return nil
			}
			c.handleAnnounce(msg)
		}
	}
}

func (c *Coordinator) publishAnnounce(ctx context.Context) {
	c.mu.Lock()
	self := c.members[c.cfg.MemberID]
	c.mu.Unlock()
	self.touch()
	state, _ := self.snapshot()

	payload, err := json.Marshal(announceMsg{ID: c.cfg.MemberID, State: state, Incarnation: c.loadIncarnation()})
	if err != nil {
		return
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	if err := c.pubSub.Publish(Topic, msg); err != nil {
		logging.Component("synccoord").Warn().Err(err).Msg("failed to publish handshake announcement")
	}
}

func (c *Coordinator) publishLeft(ctx context.Context) {
	inc := c.bumpIncarnation()
	payload, err := json.Marshal(announceMsg{ID: c.cfg.MemberID, State: StateLeft, Incarnation: inc})
	if err != nil {
		return
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	_ = c.pubSub.Publish(Topic, msg)
}

func (c *Coordinator) handleAnnounce(msg *message.Message) {
	defer msg.Ack()

	var a announceMsg
	if err := json.Unmarshal(msg.Payload, &a); err != nil {
		return
	}
	if a.ID == c.cfg.MemberID {
		return
	}

	c.mu.Lock()
	m, ok := c.members[a.ID]
	if !ok {
		m = newMember(a.ID)
		c.members[a.ID] = m
	}
	c.mu.Unlock()

	m.touch()
	m.SetState(a.State, a.Incarnation)
	c.recomputeLead()
}

func (c *Coordinator) sweepStale() {
	cutoff := time.Now().Add(-c.cfg.SuspectTimeout)
	c.mu.RLock()
	members := make([]*Member, 0, len(c.members))
	for id, m := range c.members {
		if id == c.cfg.MemberID {
			continue
		}
		members = append(members, m)
	}
	c.mu.RUnlock()

	for _, m := range members {
		if m.isStale(cutoff) {
			m.SetState(StateSuspect, c.loadIncarnation())
		}
	}
	c.recomputeLead()
}

// recomputeLead determines lead by lowest member ID among Alive
// participants (including self); Suspect and Left members are excluded.
// Ties cannot occur since member IDs are unique per process.
func (c *Coordinator) recomputeLead() {
	c.mu.Lock()
	defer c.mu.Unlock()

	lowest := c.cfg.MemberID
	for id, m := range c.members {
		state, _ := m.snapshot()
		if state != StateAlive {
			continue
		}
		if id < lowest {
			lowest = id
		}
	}

	wasLead := c.isLead
	c.isLead = lowest == c.cfg.MemberID
	if c.isLead != wasLead && c.onLeadChange != nil {
		isLead := c.isLead
		go c.onLeadChange(isLead)
	}
}

// IsLead reports whether this participant currently holds the lead.
func (c *Coordinator) IsLead() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isLead
}

func (c *Coordinator) loadIncarnation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.incarnation
}

func (c *Coordinator) bumpIncarnation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.incarnation++
	return c.incarnation
}

// watermillLogger adapts zerolog to watermill.LoggerAdapter, the same
// small bridge internal/events builds around its own gochannel instance.
type watermillLogger struct{}

func (watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	logging.Component("synccoord").Error().Err(err).Fields(map[string]any(fields)).Msg(msg)
}
func (watermillLogger) Info(msg string, fields watermill.LogFields) {
	logging.Component("synccoord").Info().Fields(map[string]any(fields)).Msg(msg)
}
func (watermillLogger) Debug(msg string, fields watermill.LogFields) {
	logging.Component("synccoord").Debug().Fields(map[string]any(fields)).Msg(msg)
}
func (watermillLogger) Trace(msg string, fields watermill.LogFields) {
	logging.Component("synccoord").Trace().Fields(map[string]any(fields)).Msg(msg)
}
func (watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return watermillLogger{}
}
