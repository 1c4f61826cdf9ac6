package resolver

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

var foldCase = cases.Fold()

// evaluateCriteria applies the AND semantics of §4.6: every criterion must
// pass; an empty list passes vacuously.
func evaluateCriteria(criteria []Criterion, now time.Time, props map[string]string) bool {
	for _, c := range criteria {
		if !evaluateCriterion(c, now, props) {
			return false
		}
	}
	return true
}

// evaluateCriterion resolves one predicate's metric value, then applies
// its condition. An unknown metric with no display-property fallback
// fails closed (§4.6).
func evaluateCriterion(c Criterion, now time.Time, props map[string]string) bool {
	got, ok := metricValue(c.Metric, now, props)
	if !ok {
		return false
	}
	return compare(c.Condition, c.Type, got, c.Value, c.Metric)
}

// metricValue resolves a criterion's metric against the clock or the
// display property map (§4.6 table).
func metricValue(metric string, now time.Time, props map[string]string) (string, bool) {
	switch metric {
	case "dayOfWeek":
		return now.Weekday().String(), true
	case "isoDay":
		return strconv.Itoa(isoWeekday(now)), true
	case "hour":
		return strconv.Itoa(now.Hour()), true
	case "minute":
		return strconv.Itoa(now.Minute()), true
	case "month":
		return strconv.Itoa(int(now.Month())), true
	case "dayOfMonth":
		return strconv.Itoa(now.Day()), true
	default:
		v, ok := props[metric]
		return v, ok
	}
}

// compare applies condition to (got, want) under the declared type. The
// dayOfWeek metric is matched case-insensitively via golang.org/x/text,
// since the CMS and the display property map are not guaranteed to agree
// on capitalization ("Monday" vs "monday").
func compare(cond Condition, typ ValueType, got, want, metric string) bool {
	if metric == "dayOfWeek" || typ == TypeString {
		got = foldCase.String(got)
		want = foldCase.String(want)
	}

	switch cond {
	case ConditionEquals:
		if typ == TypeNumber {
			g, w, ok := bothNumbers(got, want)
			return ok && g == w
		}
		return got == want
	case ConditionNotEquals:
		if typ == TypeNumber {
			g, w, ok := bothNumbers(got, want)
			return ok && g != w
		}
		return got != want
	case ConditionLessThan:
		g, w, ok := bothNumbers(got, want)
		return ok && g < w
	case ConditionLessThanOrEqual:
		g, w, ok := bothNumbers(got, want)
		return ok && g <= w
	case ConditionGreaterThan:
		g, w, ok := bothNumbers(got, want)
		return ok && g > w
	case ConditionGreaterThanOrEqual:
		g, w, ok := bothNumbers(got, want)
		return ok && g >= w
	case ConditionContains:
		return strings.Contains(got, want)
	case ConditionIn:
		for _, v := range strings.Split(want, ",") {
			if strings.TrimSpace(v) == got {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func bothNumbers(a, b string) (float64, float64, bool) {
	af, aerr := strconv.ParseFloat(strings.TrimSpace(a), 64)
	bf, berr := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if aerr != nil || berr != nil {
		return 0, 0, false
	}
	return af, bf, true
}
