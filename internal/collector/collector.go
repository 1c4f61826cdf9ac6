// Package collector drives the collection cycle described in §2 ("Control
// flow of a collection cycle"): authenticate, pull the manifest and
// schedule, fan downloads out to the download manager, and submit status,
// stats, and logs on the configured cadence. It is the glue layer §2
// calls "Settings + lifecycle glue" (~10%) plus the cycle driver itself.
//
// The cycle-as-a-supervised-service shape is grounded on cartographus's
// internal/supervisor (ServerSupervisor/SupervisorTree): one long-running
// Serve loop per managed unit, restarted by suture on panic or returned
// error, rather than the hand-rolled retry loop a from-scratch rewrite
// would reach for.
package collector

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/skyline-signage/player-core/internal/downloader"
	"github.com/skyline-signage/player-core/internal/events"
	"github.com/skyline-signage/player-core/internal/identity"
	"github.com/skyline-signage/player-core/internal/logging"
	"github.com/skyline-signage/player-core/internal/manifest"
	"github.com/skyline-signage/player-core/internal/metrics"
	"github.com/skyline-signage/player-core/internal/playererr"
	"github.com/skyline-signage/player-core/internal/resolver"
	"github.com/skyline-signage/player-core/internal/transport"
)

// Config holds the collector's own tunables; CMS-driven knobs
// (collectInterval etc., §6) arrive later via applyRegisterSettings and
// override the defaults below at runtime.
type Config struct {
	CollectInterval time.Duration // default 300s, clamped [60s,86400s] by applyRegisterSettings
	TickInterval    time.Duration // the "every minute" poll of §2 step 5
	StatsBatchSize  int           // default 50, §5 "Backpressure"
	LogBatchSize    int           // default 100, §5 "Backpressure"
	FaultWindow     time.Duration // persistent-failure escalation window, §7

	ClientType    string
	ClientVersion string
	ScreenWidth   int
	ScreenHeight  int
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		CollectInterval: 300 * time.Second,
		TickInterval:    time.Minute,
		StatsBatchSize:  50,
		LogBatchSize:    100,
		FaultWindow:     5 * time.Minute,
		ClientType:      "linux",
		ClientVersion:   "1.0.0",
	}
}

// clampCollectInterval enforces §6's "clamped 60..86400, default 300".
func clampCollectInterval(seconds int) time.Duration {
	switch {
	case seconds <= 0:
		return 300 * time.Second
	case seconds < 60:
		return 60 * time.Second
	case seconds > 86400:
		return 86400 * time.Second
	default:
		return time.Duration(seconds) * time.Second
	}
}

// Collector owns one display's collection cycle: transport auth, manifest
// diffing, download fan-out, schedule resolution, and status/stats/log
// submission.
type Collector struct {
	cfg Config
	mu  sync.RWMutex

	client   *transport.Client
	manager  *downloader.Manager
	store    manifest.StoreChecker
	resolver *resolver.Resolver
	identity *identity.Identity
	bus      *events.Bus

	errStats *playererr.Stats
	faults   []transport.FaultReport

	statsBuf [][]byte
	logBuf   []string

	geo   *resolver.GeoLocation
	props map[string]string

	lastCycleAt   time.Time
	spotCheckNext int // index into the declared list where the next spot check starts
}

// New constructs a Collector. geo and props may be updated later by the
// platform shell via SetGeo/SetProps as the display's own state changes.
func New(cfg Config, client *transport.Client, manager *downloader.Manager, store manifest.StoreChecker, res *resolver.Resolver, id *identity.Identity, bus *events.Bus) *Collector {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.CollectInterval <= 0 {
		cfg.CollectInterval = 300 * time.Second
	}
	return &Collector{
		cfg:      cfg,
		client:   client,
		manager:  manager,
		store:    store,
		resolver: res,
		identity: id,
		bus:      bus,
		errStats: playererr.NewStats(),
		props:    make(map[string]string),
	}
}

// SetGeo updates the display's current geolocation for geo-fenced items.
func (c *Collector) SetGeo(geo resolver.GeoLocation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.geo = &geo
}

// SetProps replaces the display property map criteria predicates read from.
func (c *Collector) SetProps(props map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.props = props
}

// Serve implements suture.Service: it runs the proof-of-play subscriber
// and the two periodic loops (minute tick, full collection cycle) until
// ctx is cancelled. A panic inside either loop unwinds to suture, which
// restarts Serve; errStats and the schedule model are held outside this
// method so a restart resumes with the last-known-good schedule rather
// than an empty one (§7 "A failed schedule is survivable").
func (c *Collector) Serve(ctx context.Context) error {
	var wg sync.WaitGroup

	if c.bus != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.runProofOfPlaySubscriber(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.runCycleLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.runTickLoop(ctx)
	}()

	wg.Wait()
	return ctx.Err()
}

func (c *Collector) runCycleLoop(ctx context.Context) {
	if err := c.RunCycle(ctx); err != nil {
		c.recordFault("collector.cycle", err)
	}
	for {
		interval := c.collectInterval()
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			if err := c.RunCycle(ctx); err != nil {
				c.recordFault("collector.cycle", err)
			}
		}
	}
}

func (c *Collector) runTickLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(time.Now())
		}
	}
}

func (c *Collector) collectInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.CollectInterval
}

// RunCycle performs one full collection cycle (§2 steps 1-4, 6): register,
// manifest diff + download fan-out, schedule refresh, and status
// submission. Download completion is not awaited — the manager drains its
// queue independently, and the next cycle's manifest diff naturally
// redrives anything still missing.
func (c *Collector) RunCycle(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.CollectionCycleDuration.Observe(time.Since(start).Seconds()) }()

	reg, err := c.client.Register(ctx, transport.RegisterRequest{
		HardwareKey:   c.identity.HardwareKey,
		ClientType:    c.cfg.ClientType,
		ClientVersion: c.cfg.ClientVersion,
		ScreenWidth:   c.cfg.ScreenWidth,
		ScreenHeight:  c.cfg.ScreenHeight,
		PublicKey:     c.identity.PublicKeyPEM,
	})
	if err != nil {
		return err
	}
	c.applyRegisterSettings(reg)
	c.flushFaultsIfDue(ctx)

	required, err := c.client.RequiredFiles(ctx)
	if err != nil {
		return err
	}
	plan, err := manifest.Resolve(ctx, c.store, toManifestFiles(required.Files), required.Purge)
	if err != nil {
		return err
	}
	c.purgeKeys(ctx, plan.Purge)
	for _, fi := range plan.Downloads {
		c.manager.Enqueue(fi)
	}
	c.spotCheckIntegrity(ctx, required.Files, plan)

	scheduleXML, err := c.client.Schedule(ctx)
	if err != nil {
		return err
	}
	model, err := parseSchedule(scheduleXML)
	if err != nil {
		return err
	}
	c.resolver.SetSchedule(model)

	c.submitStatus(ctx)
	c.lastCycleAt = time.Now()
	return nil
}

// applyRegisterSettings maps the register() response's settings map onto
// local tunables (§6's option table); unrecognised keys are ignored.
func (c *Collector) applyRegisterSettings(reg *transport.RegisterResponse) {
	c.identity.ApplySettings(reg.Settings)

	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := reg.Settings["collectInterval"]; ok {
		if secs, ok := toInt(v); ok {
			c.cfg.CollectInterval = clampCollectInterval(secs)
		}
	}
	if v, ok := reg.Settings["logLevel"]; ok {
		if s, ok := v.(string); ok {
			logging.SetRemoteLevel(logging.RemoteLevel(s))
		}
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}

func toManifestFiles(files []transport.RequiredFile) []manifest.RequiredFile {
	out := make([]manifest.RequiredFile, len(files))
	for i, f := range files {
		out[i] = manifest.RequiredFile{
			Kind: f.Kind, ID: f.ID, Size: f.Size, MD5: f.MD5,
			ContentType: f.ContentType, URL: f.URL,
		}
	}
	return out
}

// Tick answers "what should play now?" (§2 step 5) and records the number
// of layouts in the answer in the ActiveLayoutCount metric; the answer
// itself is not kept, and the renderer polls CurrentLayouts/CurrentOverlays,
// which query the resolver again. It never blocks, per §5's "the resolver
// is stateless-per-query and cannot block".
func (c *Collector) Tick(now time.Time) {
	c.mu.RLock()
	geo := c.geo
	props := c.props
	c.mu.RUnlock()

	layouts := resolver.LayoutIDs(c.resolver.Current(now, geo, props))
	metrics.ActiveLayoutCount.Set(float64(len(layouts)))
}

// CurrentLayouts polls the resolver directly (§6 "scheduler.current_layouts").
func (c *Collector) CurrentLayouts(now time.Time) []string {
	c.mu.RLock()
	geo := c.geo
	props := c.props
	c.mu.RUnlock()
	return resolver.LayoutIDs(c.resolver.Current(now, geo, props))
}

// CurrentOverlays polls the resolver's overlay list (§6
// "scheduler.current_overlays").
func (c *Collector) CurrentOverlays(now time.Time) []string {
	c.mu.RLock()
	geo := c.geo
	props := c.props
	c.mu.RUnlock()
	return resolver.LayoutIDs(c.resolver.CurrentOverlays(now, geo, props))
}

func (c *Collector) submitStatus(ctx context.Context) {
	usedBytes, err := c.storeUsedBytes(ctx)
	if err != nil {
		logging.Component("collector").Warn().Err(err).Msg("failed to measure store usage for status report")
	}
	layouts := c.CurrentLayouts(time.Now())
	currentLayout := ""
	if len(layouts) > 0 {
		currentLayout = layouts[0]
	}
	status := transport.StatusReport{
		CurrentLayoutID: currentLayout,
		DiskUsedBytes:   usedBytes,
		Timezone:        time.Local.String(),
	}
	c.mu.RLock()
	if c.geo != nil {
		status.Latitude = c.geo.Lat
		status.Longitude = c.geo.Lon
	}
	c.mu.RUnlock()
	if err := c.client.NotifyStatus(ctx, status); err != nil {
		c.recordFault("collector.notifyStatus", err)
	}
}

// storeUsedBytes calls UsedBytes via a narrow interface assertion rather
// than widening StoreChecker, since only the status report needs it.
func (c *Collector) storeUsedBytes(ctx context.Context) (int64, error) {
	type usageStore interface {
		UsedBytes(ctx context.Context) (int64, error)
	}
	if us, ok := c.store.(usageStore); ok {
		return us.UsedBytes(ctx)
	}
	return 0, nil
}

// removableStore is the narrow interface the store purge path needs,
// matching the storeUsedBytes/spotCheckIntegrity pattern of asserting for
// the capability rather than widening manifest.StoreChecker.
type removableStore interface {
	Remove(ctx context.Context, kind, id string) error
}

// purgeKeys removes every purge-list entry from the store (§4.2 "purge
// list": CMS-named removals plus store entries no longer declared by any
// required file). A store that does not support removal only gets the
// debug log, same as before this existed.
func (c *Collector) purgeKeys(ctx context.Context, keys []downloader.FileKey) {
	rs, ok := c.store.(removableStore)
	for _, key := range keys {
		logging.Component("collector").Debug().Str("kind", string(key.Kind)).Str("id", key.ID).Msg("purge candidate")
		if !ok {
			continue
		}
		if err := rs.Remove(ctx, string(key.Kind), key.ID); err != nil {
			c.recordFault("collector.purge", playererr.Wrap(playererr.Capacity, "collector.purge", "store remove failed", err))
		}
	}
}

// purgeAll implements the CMS's purgeAll push command (§6): every file the
// store currently holds is removed and every queued/in-flight download is
// cancelled, so the following RunCycle re-fetches the display's entire
// content set from scratch rather than trusting local state.
func (c *Collector) purgeAll(ctx context.Context) error {
	c.manager.Clear()

	items, err := c.store.List(ctx)
	if err != nil {
		return err
	}
	keys := make([]downloader.FileKey, len(items))
	for i, it := range items {
		keys[i] = downloader.FileKey{Kind: downloader.Kind(it.Kind), ID: it.ID}
	}
	c.purgeKeys(ctx, keys)
	return nil
}

// spotCheckIntegrity re-verifies one already-present file's local BLAKE3
// digest per cycle — a bounded-cost sweep that eventually covers the
// whole store without re-hashing everything on every cycle. It only
// looks at files the manifest diff decided NOT to re-download, since a
// fresh download is about to be re-hashed by the store anyway.
func (c *Collector) spotCheckIntegrity(ctx context.Context, declared []transport.RequiredFile, plan manifest.Plan) {
	type integrityStore interface {
		VerifyIntegrity(ctx context.Context, kind, id string) (bool, error)
	}
	is, ok := c.store.(integrityStore)
	if !ok || len(declared) == 0 {
		return
	}

	redownloading := make(map[string]bool, len(plan.Downloads))
	for _, fi := range plan.Downloads {
		redownloading[string(fi.Key.Kind)+":"+fi.Key.ID] = true
	}

	for i := 0; i < len(declared); i++ {
		pos := (c.spotCheckNext + i) % len(declared)
		f := declared[pos]
		if redownloading[f.Kind+":"+f.ID] {
			continue
		}
		c.spotCheckNext = pos + 1
		ok, err := is.VerifyIntegrity(ctx, f.Kind, f.ID)
		if err != nil {
			return
		}
		if !ok {
			logging.Component("collector").Warn().Str("kind", f.Kind).Str("id", f.ID).
				Msg("local blake3 integrity check failed, file may be corrupt on disk")
			c.recordFault("collector.spotCheckIntegrity", playererr.New(playererr.Integrity, "collector.spotCheckIntegrity", "local blob failed integrity check: "+f.Kind+":"+f.ID))
		}
		return
	}
}

// recordFault tracks an error in both the retry-escalation tracker and the
// fault buffer, which flushFaultsIfDue submits on the first successful
// register() after failures have persisted for cfg.FaultWindow (§4.1
// "reportFaults"; §7 "persistent failures").
func (c *Collector) recordFault(op string, err error) {
	perr, ok := asPlayerErr(err)
	if !ok {
		perr = playererr.Wrap(playererr.Transient, op, "unclassified error", err)
	}
	logging.Component("collector").Error().Err(err).Str("op", op).Msg("collection cycle step failed")

	c.mu.Lock()
	defer c.mu.Unlock()
	c.errStats.Record(perr)
	c.faults = append(c.faults, transport.FaultReport{
		Kind:      string(perr.Kind),
		Op:        perr.Op,
		Message:   perr.Message,
		Timestamp: perr.Timestamp.UTC().Format(time.RFC3339),
		Count:     1,
	})
}

func asPlayerErr(err error) (*playererr.Error, bool) {
	pe, ok := err.(*playererr.Error)
	return pe, ok
}

// flushFaultsIfDue submits accumulated faults once the failure window has
// elapsed and a register() has just succeeded (§7 "reportFaults ... flushes
// on the next successful register").
func (c *Collector) flushFaultsIfDue(ctx context.Context) {
	c.mu.Lock()
	if len(c.faults) == 0 {
		c.mu.Unlock()
		return
	}
	due := c.errStats.PersistentFailure(c.cfg.FaultWindow)
	faults := c.faults
	c.mu.Unlock()
	if !due {
		return
	}

	if err := c.client.ReportFaults(ctx, faults); err != nil {
		logging.Component("collector").Warn().Err(err).Msg("failed to flush fault buffer")
		return
	}
	c.mu.Lock()
	c.faults = nil
	c.errStats.Reset()
	c.mu.Unlock()
}

// HandleCommand implements CommandSink (§6 "Push channel"): a nudge from
// whatever out-of-scope transport delivers it, never the sole trigger of
// an action.
func (c *Collector) HandleCommand(cmd CommandEnvelope) error {
	switch cmd.Command {
	case CommandCollectNow:
		go func() {
			if err := c.RunCycle(context.Background()); err != nil {
				c.recordFault("collector.collectNow", err)
			}
		}()
	case CommandRevertToSchedule, CommandChangeLayout, CommandOverlayLayout:
		// Renderer-facing concerns outside this core's scope (§1); the
		// command still counts as received for push-channel bookkeeping.
	case CommandPurgeAll:
		go func() {
			ctx := context.Background()
			if err := c.purgeAll(ctx); err != nil {
				c.recordFault("collector.purgeAll", err)
				return
			}
			if err := c.RunCycle(ctx); err != nil {
				c.recordFault("collector.purgeAll", err)
			}
		}()
	}
	return nil
}

// marshalStatsJSON is a small helper the proof-of-play batcher uses to
// serialize a batch of records for submitStats (§4.1 "array or XML" — this
// implementation always sends the JSON array form, matching the
// transport client's stated behaviour).
func marshalStatsJSON(records []json.RawMessage) ([]byte, error) {
	return json.Marshal(records)
}
