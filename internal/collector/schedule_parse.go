package collector

import (
	"encoding/xml"
	"strconv"
	"strings"
	"time"

	"github.com/skyline-signage/player-core/internal/playererr"
	"github.com/skyline-signage/player-core/internal/resolver"
)

// scheduleDoc is the CMS's opaque schedule XML payload (§4.1 "schedule"),
// parsed the same way internal/manifest.ParseXLF handles layout XLF: a
// narrow, purpose-built struct rather than a generic library, since the
// wire format is CMS-proprietary and not a standard XML dialect any
// dependency in the retrieval pack would recognise.
type scheduleDoc struct {
	XMLName         xml.Name `xml:"schedule"`
	DefaultLayoutID string   `xml:"defaultLayoutId,attr"`
	Layout          []xmlItem `xml:"layout"`
	Campaign        []xmlItem `xml:"campaign"`
	Overlay         []xmlItem `xml:"overlay"`
}

type xmlItem struct {
	ScheduleID      string  `xml:"scheduleId,attr"`
	LayoutID        string  `xml:"layoutId,attr"`
	FromDt          string  `xml:"fromDt,attr"`
	ToDt            string  `xml:"toDt,attr"`
	Priority        int     `xml:"priority,attr"`
	RecurrenceType  string  `xml:"recurrenceType,attr"`
	RecurrenceDays  string  `xml:"recurrenceDays,attr"`  // comma-separated ISO day numbers
	RecurrenceRange string  `xml:"recurrenceRange,attr"` // RFC3339, optional
	ShareOfVoice    float64 `xml:"shareOfVoice,attr"`
	DurationSeconds int     `xml:"duration,attr"`
	MaxPlaysPerHour int     `xml:"maxPlaysPerHour,attr"`
	IsGeoAware      bool    `xml:"isGeoAware,attr"`
	GeoLocation     string  `xml:"geoLocation,attr"` // "lat,lon[,radius_m]"
	CampaignLayouts string  `xml:"campaignLayoutIds,attr"`
	Criteria        []xmlCriterion `xml:"criteria>criterion"`
}

type xmlCriterion struct {
	Metric    string `xml:"metric,attr"`
	Condition string `xml:"condition,attr"`
	Type      string `xml:"type,attr"`
	Value     string `xml:"value,attr"`
}

// parseSchedule converts the CMS's raw schedule XML into the resolver's
// model (§3 "Schedule model").
func parseSchedule(data []byte) (*resolver.Schedule, error) {
	var doc scheduleDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, playererr.Wrap(playererr.Protocol, "collector.parseSchedule", "malformed schedule document", err)
	}

	model := &resolver.Schedule{DefaultLayoutID: doc.DefaultLayoutID}
	for _, it := range doc.Layout {
		item, err := convertItem(it, false)
		if err != nil {
			return nil, err
		}
		model.Items = append(model.Items, item)
	}
	for _, it := range doc.Campaign {
		item, err := convertItem(it, true)
		if err != nil {
			return nil, err
		}
		model.Items = append(model.Items, item)
	}
	for _, it := range doc.Overlay {
		item, err := convertItem(it, false)
		if err != nil {
			return nil, err
		}
		model.Overlays = append(model.Overlays, item)
	}
	return model, nil
}

func convertItem(x xmlItem, isCampaign bool) (resolver.Item, error) {
	fromDt, err := parseTimeAttr(x.FromDt)
	if err != nil {
		return resolver.Item{}, playererr.Wrap(playererr.Protocol, "collector.parseSchedule", "malformed fromDt", err)
	}
	toDt, err := parseTimeAttr(x.ToDt)
	if err != nil {
		return resolver.Item{}, playererr.Wrap(playererr.Protocol, "collector.parseSchedule", "malformed toDt", err)
	}

	item := resolver.Item{
		ScheduleID:      x.ScheduleID,
		LayoutID:        x.LayoutID,
		FromDt:          fromDt,
		ToDt:            toDt,
		Priority:        x.Priority,
		ShareOfVoice:    x.ShareOfVoice,
		Duration:        time.Duration(x.DurationSeconds) * time.Second,
		MaxPlaysPerHour: x.MaxPlaysPerHour,
		IsGeoAware:      x.IsGeoAware,
		IsCampaign:      isCampaign,
	}

	if x.RecurrenceType == "Week" {
		rec := &resolver.Recurrence{Type: resolver.RecurrenceWeek}
		for _, d := range strings.Split(x.RecurrenceDays, ",") {
			d = strings.TrimSpace(d)
			if d == "" {
				continue
			}
			n, err := strconv.Atoi(d)
			if err != nil {
				continue
			}
			rec.Days |= resolver.DayBit(n)
		}
		if x.RecurrenceRange != "" {
			rangeTime, err := time.Parse(time.RFC3339, x.RecurrenceRange)
			if err == nil {
				rec.Range = &rangeTime
			}
		}
		item.Recurrence = rec
	}

	if x.IsGeoAware && x.GeoLocation != "" {
		fence, err := parseGeoLocation(x.GeoLocation)
		if err != nil {
			return resolver.Item{}, err
		}
		item.Geo = &fence
	}

	if isCampaign && x.CampaignLayouts != "" {
		for _, id := range strings.Split(x.CampaignLayouts, ",") {
			id = strings.TrimSpace(id)
			if id != "" {
				item.CampaignLayoutIDs = append(item.CampaignLayoutIDs, id)
			}
		}
	}

	for _, c := range x.Criteria {
		item.Criteria = append(item.Criteria, resolver.Criterion{
			Metric:    c.Metric,
			Condition: resolver.Condition(c.Condition),
			Type:      resolver.ValueType(c.Type),
			Value:     c.Value,
		})
	}

	return item, nil
}

// parseTimeAttr parses an absolute instant attribute; under a weekly
// recurrence only the time-of-day component is read (§9 Open Question:
// "adopts the time-of-day reading when a recurrence is present"), but the
// attribute is still a full RFC3339 timestamp on the wire either way.
func parseTimeAttr(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// parseGeoLocation parses the "lat,lon[,radius_m]" triple of §3
// "geoLocation"; a missing radius component uses resolver.UnspecifiedRadius
// so the resolver can fall back to its own default rather than treating
// an omitted radius as an explicit zero (§8 "Geo-fence with radius 0").
func parseGeoLocation(s string) (resolver.GeoFence, error) {
	parts := strings.Split(s, ",")
	fence := resolver.GeoFence{RadiusM: resolver.UnspecifiedRadius}
	if len(parts) < 2 {
		return fence, playererr.New(playererr.Protocol, "collector.parseSchedule", "malformed geoLocation: "+s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return fence, playererr.Wrap(playererr.Protocol, "collector.parseSchedule", "malformed geoLocation latitude", err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return fence, playererr.Wrap(playererr.Protocol, "collector.parseSchedule", "malformed geoLocation longitude", err)
	}
	fence.Lat, fence.Lon = lat, lon
	if len(parts) >= 3 && strings.TrimSpace(parts[2]) != "" {
		radius, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err == nil {
			fence.RadiusM = radius
		}
	}
	return fence, nil
}
