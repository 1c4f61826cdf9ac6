package resolver

import (
	"sync"
	"time"

	"github.com/skyline-signage/player-core/internal/logging"
	"github.com/skyline-signage/player-core/internal/metrics"
)

// DefaultItemDuration is used for cycle-fill arithmetic when a normal
// item's own Duration is unset; the spec requires Duration for interrupts
// and cycle planning but does not mandate it for every standalone layout.
const DefaultItemDuration = 10 * time.Second

// hourWindow is 3600 seconds' worth of interrupt budget (§4.5 step 4).
const hourWindow = time.Hour

// Resolver holds the current schedule model snapshot plus the two pieces
// of state that outlive a single query: the interrupt committed-duration
// tally and the per-layout play counter, both cleared lazily on the next
// query after an hour rollover (§3 "Lifecycles", §4.5 "Per-hour resets").
type Resolver struct {
	mu       sync.Mutex
	schedule *Schedule

	hourBucket time.Time
	playCount  map[string]int
	committed  map[string]time.Duration
}

// New constructs an empty Resolver; call SetSchedule once a schedule
// response has been parsed.
func New() *Resolver {
	return &Resolver{
		playCount: make(map[string]int),
		committed: make(map[string]time.Duration),
	}
}

// SetSchedule installs a freshly-parsed schedule model (§4.1 "schedule"),
// replacing whatever model a previous successful fetch installed. A
// failed fetch simply never calls this, so the resolver keeps using the
// previous model (§7 "A failed schedule is survivable").
func (r *Resolver) SetSchedule(s *Schedule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedule = s
}

// resetHourIfNeeded clears the per-hour counters on an hour rollover,
// lazily, on the next query (§4.5 "Implementations MUST do this lazily").
func (r *Resolver) resetHourIfNeeded(now time.Time) {
	bucket := now.Truncate(time.Hour)
	if bucket.Equal(r.hourBucket) {
		return
	}
	r.hourBucket = bucket
	r.playCount = make(map[string]int)
	r.committed = make(map[string]time.Duration)
}

// Current computes the ordered play sequence for the next cycle (§4.5).
// now should be the display's local clock (dayparting and hour resets are
// local-clock concepts, §4.5/§6); geo is nil if the display has not
// reported a location.
func (r *Resolver) Current(now time.Time, geo *GeoLocation, props map[string]string) []PlayItem {
	start := time.Now()
	defer func() { metrics.ScheduleResolveDuration.Observe(time.Since(start).Seconds()) }()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetHourIfNeeded(now)

	if r.schedule == nil {
		return r.fallback()
	}
	return r.resolveLocked(r.schedule.Items, now, geo, props, true)
}

// CurrentOverlays computes the overlay list using the same eligibility
// rules, but never interleaves them into the main sequence (§4.5
// "Overlays").
func (r *Resolver) CurrentOverlays(now time.Time, geo *GeoLocation, props map[string]string) []PlayItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetHourIfNeeded(now)

	if r.schedule == nil {
		return nil
	}
	return r.resolveLocked(r.schedule.Overlays, now, geo, props, false)
}

func (r *Resolver) fallback() []PlayItem {
	if r.schedule != nil && r.schedule.DefaultLayoutID != "" {
		return []PlayItem{{LayoutID: r.schedule.DefaultLayoutID}}
	}
	return nil
}

// resolveLocked runs steps 1-5 of §4.5 against one slice of items
// (r.mu is already held). trackCounters is false for overlays, which
// share the eligibility rules but not the play-count/interrupt bookkeeping
// of the main sequence.
func (r *Resolver) resolveLocked(items []Item, now time.Time, geo *GeoLocation, props map[string]string, trackCounters bool) []PlayItem {
	var active []Item
	for _, it := range items {
		count := 0
		if trackCounters {
			count = r.playCount[it.key()]
		}
		if isActive(it, now, geo, props, count) {
			active = append(active, it)
		}
	}

	if len(active) == 0 {
		logging.Component("resolver").Debug().Msg("no active schedule items, falling back to default layout")
		if trackCounters {
			return r.fallback()
		}
		return nil
	}
	metrics.ScheduleActiveItems.Set(float64(len(active)))

	maxPriority := active[0].Priority
	for _, it := range active[1:] {
		if it.Priority > maxPriority {
			maxPriority = it.Priority
		}
	}
	var survivors []Item
	for _, it := range active {
		if it.Priority == maxPriority {
			survivors = append(survivors, it)
		}
	}

	var normals, interrupts []Item
	for _, it := range survivors {
		if it.IsInterrupt() {
			interrupts = append(interrupts, it)
		} else {
			normals = append(normals, it)
		}
	}

	normalPlays := expandNormals(normals)
	if len(interrupts) == 0 {
		if trackCounters {
			r.recordPlays(normalPlays)
		}
		return normalPlays
	}

	seq := r.buildInterruptSequence(interrupts, normalPlays, trackCounters)
	return seq
}

// expandNormals unrolls campaigns into one PlayItem per member layout,
// preserving the campaign's priority and schedule ID for every layout it
// contributes (§4.5 step 3 "Campaign expansion").
func expandNormals(items []Item) []PlayItem {
	var out []PlayItem
	for _, it := range items {
		dur := itemDuration(it)
		if it.IsCampaign {
			for _, lid := range it.CampaignLayoutIDs {
				out = append(out, PlayItem{LayoutID: lid, ScheduleID: it.ScheduleID, Priority: it.Priority, Duration: dur})
			}
			continue
		}
		out = append(out, PlayItem{LayoutID: it.LayoutID, ScheduleID: it.ScheduleID, Priority: it.Priority, Duration: dur})
	}
	return out
}

// buildInterruptSequence implements §4.5 step 4 in full: round-robin
// commitment of interrupt plays until every interrupt meets its required
// share, a hard cutover to interrupts-only once their total reaches the
// hour, otherwise a normals cycle-fill for the remaining seconds, and a
// proportional interleave of the two into one ordered sequence.
func (r *Resolver) buildInterruptSequence(interrupts []Item, normalPlays []PlayItem, trackCounters bool) []PlayItem {
	required := make([]time.Duration, len(interrupts))
	for i, it := range interrupts {
		required[i] = time.Duration(it.ShareOfVoice / 100 * float64(hourWindow))
	}

	var interruptSeq []PlayItem
	committed := make([]time.Duration, len(interrupts))
	for {
		allMet := true
		for i, it := range interrupts {
			if committed[i] < required[i] {
				allMet = false
				dur := itemDuration(it)
				interruptSeq = append(interruptSeq, PlayItem{LayoutID: it.LayoutID, ScheduleID: it.ScheduleID, Priority: it.Priority, Duration: dur})
				committed[i] += dur
			}
		}
		if allMet {
			break
		}
	}

	var totalInterruptSec time.Duration
	for _, c := range committed {
		totalInterruptSec += c
	}
	if trackCounters {
		for i, it := range interrupts {
			r.committed[it.key()] += committed[i]
		}
	}

	var final []PlayItem
	if totalInterruptSec >= hourWindow || len(normalPlays) == 0 {
		final = interruptSeq
	} else {
		remaining := hourWindow - totalInterruptSec
		normalFill := cycleFill(normalPlays, remaining)
		final = interleave(normalFill, interruptSeq)

		// Top up: duration granularity can leave the fill a hair short.
		total := sequenceDuration(final)
		idx := 0
		for total < hourWindow && len(normalPlays) > 0 {
			item := normalPlays[idx%len(normalPlays)]
			final = append(final, item)
			total += item.Duration
			idx++
		}
	}

	if trackCounters {
		r.recordPlays(final)
	}
	return final
}

// itemDuration returns an item's configured duration, normal or interrupt,
// or DefaultItemDuration when the item has none set (§3 "duration ...
// required for interrupts").
func itemDuration(it Item) time.Duration {
	if it.Duration > 0 {
		return it.Duration
	}
	return DefaultItemDuration
}

// cycleFill repeats normals in order, emitting each one's duration, until
// the cumulative duration meets budget (§4.5 step 4 "fill ... by cycling
// the normal items"). Each PlayItem already carries its configured
// duration (falling back to DefaultItemDuration if the source Item left it
// unset, see itemDuration), so the budget is measured against real
// per-item durations rather than a uniform assumption.
func cycleFill(normals []PlayItem, budget time.Duration) []PlayItem {
	if len(normals) == 0 {
		return nil
	}
	var out []PlayItem
	var total time.Duration
	for i := 0; total < budget; i++ {
		item := normals[i%len(normals)]
		out = append(out, item)
		total += item.Duration
	}
	return out
}

// interleave merges two ordered sequences proportionally to their
// lengths, preserving each sequence's internal order — a concrete
// realisation of §4.5 step 4's "ceil(k/|normal|) / floor(k/|interrupt|)
// slot" interleave that guarantees every element of both inputs appears
// exactly once, spread as evenly as possible across the output.
func interleave(a, b []PlayItem) []PlayItem {
	out := make([]PlayItem, 0, len(a)+len(b))
	var ai, bi int
	for ai < len(a) || bi < len(b) {
		switch {
		case ai >= len(a):
			out = append(out, b[bi])
			bi++
		case bi >= len(b):
			out = append(out, a[ai])
			ai++
		case (ai+1)*len(b) <= (bi+1)*len(a):
			out = append(out, a[ai])
			ai++
		default:
			out = append(out, b[bi])
			bi++
		}
	}
	return out
}

// sequenceDuration sums a built sequence's total duration for the top-up
// check, using each PlayItem's own Duration (normals without an explicit
// duration already fell back to DefaultItemDuration in expandNormals).
func sequenceDuration(seq []PlayItem) time.Duration {
	var total time.Duration
	for _, item := range seq {
		total += item.Duration
	}
	return total
}

// recordPlays increments the per-hour play counter for every layout
// occurrence in a computed sequence, enforcing maxPlaysPerHour on
// subsequent queries within the same hour (§4.5 "Per-hour resets").
func (r *Resolver) recordPlays(seq []PlayItem) {
	for _, item := range seq {
		if item.ScheduleID != "" {
			r.playCount[item.ScheduleID]++
		}
	}
}
