package resolver

import "time"

// isActive applies every eligibility test of §4.5 step 1 to one item.
// playCount is the item's play-count tally so far this hour (for
// maxPlaysPerHour); geo is nil when the display has not reported a
// location yet, in which case a geo-aware item is never eligible.
func isActive(it Item, now time.Time, geo *GeoLocation, props map[string]string, playCount int) bool {
	if !withinWindow(it, now) {
		return false
	}
	if it.Recurrence != nil && it.Recurrence.Range != nil && now.After(*it.Recurrence.Range) {
		return false
	}
	if !evaluateCriteria(it.Criteria, now, props) {
		return false
	}
	if it.IsGeoAware {
		if geo == nil || it.Geo == nil {
			return false
		}
		if !withinFence(*geo, *it.Geo) {
			return false
		}
	}
	if it.MaxPlaysPerHour > 0 && playCount >= it.MaxPlaysPerHour {
		return false
	}
	return true
}

// withinWindow implements the FromDt/ToDt test, switching between an
// absolute-instant reading (no recurrence) and a time-of-day reading with
// day-of-week gating (RecurrenceWeek), including the overnight wrap law of
// §8 ("Dayparting wrap"): for fromDt.time > toDt.time, t is active iff
// t.time >= fromDt.time OR t.time < toDt.time.
//
// The day-of-week bitset belongs to the session that STARTS on it, not to
// the calendar day the clock currently reads: for an overnight window
// (e.g. Mon-Fri 22:00-06:00), the early-morning continuation hours before
// toTOD belong to the PREVIOUS day's session (Saturday 02:00 is part of
// Friday's 22:00-06:00 window), so that branch checks yesterday's bit, not
// today's.
func withinWindow(it Item, now time.Time) bool {
	if it.Recurrence == nil || it.Recurrence.Type == RecurrenceNone {
		return !now.Before(it.FromDt) && !now.After(it.ToDt)
	}

	fromTOD := timeOfDay(it.FromDt)
	toTOD := timeOfDay(it.ToDt)
	nowTOD := timeOfDay(now)

	if fromTOD <= toTOD {
		if !dayMatches(it.Recurrence.Days, isoWeekday(now)) {
			return false
		}
		return nowTOD >= fromTOD && nowTOD < toTOD
	}

	// Overnight wrap: start > end. The evening portion (nowTOD >= fromTOD)
	// belongs to today's session; the early-morning continuation
	// (nowTOD < toTOD) belongs to yesterday's.
	if nowTOD >= fromTOD {
		return dayMatches(it.Recurrence.Days, isoWeekday(now))
	}
	if nowTOD < toTOD {
		return dayMatches(it.Recurrence.Days, prevIsoWeekday(isoWeekday(now)))
	}
	return false
}

// dayMatches reports whether the given ISO weekday is in the recurrence's
// day bitset; an all-zero bitset (no days ever configured) matches every
// day, per the existing "Days unset means every day" behaviour.
func dayMatches(days uint8, isoDay int) bool {
	if days == 0 {
		return true
	}
	return days&DayBit(isoDay) != 0
}

// prevIsoWeekday returns the ISO weekday (1=Monday..7=Sunday) immediately
// before isoDay, wrapping Monday back to Sunday.
func prevIsoWeekday(isoDay int) int {
	return (isoDay-2+7)%7 + 1
}

// timeOfDay reduces a time.Time to nanoseconds since local midnight, for
// time-of-day comparisons under a weekly recurrence.
func timeOfDay(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
}
