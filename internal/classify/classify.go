// Package classify scores fire events for likelihood of intentional
// ignition. Six independent signals contribute weighted points; signals
// whose inputs are unavailable are excluded and the remainder is
// renormalized to keep the 0-100 scale comparable across events.
package classify

import (
	"math"

	"github.com/firesentinel/firesentinel/internal/config"
	"github.com/firesentinel/firesentinel/internal/models"
)

type Classifier struct {
	cfg       config.Classifier
	utcOffset int
}

func NewClassifier(cfg config.Classifier, utcOffset int) *Classifier {
	return &Classifier{cfg: cfg, utcOffset: utcOffset}
}

// signal is one scored component: raw points in weight units, and
// whether the inputs to score it were present at all.
type signal struct {
	raw       float64
	available bool
}

// Classify scores an event. historyCount and monthsSinceLast describe
// prior events near the same location (monthsSinceLast is -1 when
// there are none); nearbyEventCount is how many other events ignited
// in the same cycle within multi-point range.
func (c *Classifier) Classify(ev models.FireEvent, historyCount int, monthsSinceLast float64, nearbyEventCount int) models.IntentBreakdown {
	w := c.cfg.Weights

	signals := [6]signal{
		c.lightningAbsence(ev.Weather),
		c.roadProximity(ev.Road),
		c.nighttimeStart(ev),
		c.historicalRepeat(historyCount, monthsSinceLast),
		c.multiPoint(nearbyEventCount),
		c.dryConditions(ev.Weather),
	}
	weights := [6]int{
		w.LightningAbsence, w.RoadProximity, w.NighttimeStart,
		w.HistoricalRepeat, w.MultiPoint, w.DryConditions,
	}

	breakdown := models.IntentBreakdown{TotalSignals: len(signals)}

	availableMax := 0
	for i, s := range signals {
		if s.available {
			availableMax += weights[i]
			breakdown.ActiveSignals++
		}
	}
	if availableMax == 0 {
		breakdown.ActiveSignals = 0
		return breakdown
	}

	// Scale so the available signals alone can reach 100, then round.
	scale := 100.0 / float64(availableMax)
	var scaled [6]int
	for i, s := range signals {
		if !s.available {
			continue
		}
		scaled[i] = int(math.Round(s.raw * scale))
	}

	// Rounding can push the sum past 100; take the excess off the
	// largest contribution.
	total := 0
	for _, v := range scaled {
		total += v
	}
	if total > 100 {
		largest := 0
		for i, v := range scaled {
			if v > scaled[largest] {
				largest = i
			}
		}
		scaled[largest] -= total - 100
	}

	breakdown.LightningAbsence = scaled[0]
	breakdown.RoadProximity = scaled[1]
	breakdown.NighttimeStart = scaled[2]
	breakdown.HistoricalRepeat = scaled[3]
	breakdown.MultiPoint = scaled[4]
	breakdown.DryConditions = scaled[5]
	return breakdown
}

// lightningAbsence awards points when the atmosphere could not have
// produced the ignition naturally. High CAPE or an observed
// thunderstorm zeroes the signal.
func (c *Classifier) lightningAbsence(weather *models.WeatherContext) signal {
	if weather == nil {
		return signal{}
	}
	w := float64(c.cfg.Weights.LightningAbsence)
	switch {
	case weather.Thunderstorm || weather.CAPE >= c.cfg.CAPE.HighJkg:
		return signal{raw: 0, available: true}
	case weather.CAPE >= c.cfg.CAPE.ModerateJkg:
		return signal{raw: w * 0.6, available: true}
	default:
		return signal{raw: w, available: true}
	}
}

func (c *Classifier) roadProximity(road *models.RoadContext) signal {
	if road == nil {
		return signal{}
	}
	w := float64(c.cfg.Weights.RoadProximity)
	t := c.cfg.RoadTiers
	// Tier boundaries are exclusive: a fire exactly at a threshold
	// scores the outer tier.
	switch {
	case road.DistanceM < t.VeryCloseM:
		return signal{raw: w, available: true}
	case road.DistanceM < t.CloseM:
		return signal{raw: w * 0.75, available: true}
	case road.DistanceM < t.NearM:
		return signal{raw: w * 0.5, available: true}
	case road.DistanceM < t.ModerateM:
		return signal{raw: w * 0.25, available: true}
	default:
		return signal{raw: 0, available: true}
	}
}

// nighttimeStart scores the local hour of first detection against the
// configured peak window, with half-weight shoulders either side of it.
func (c *Classifier) nighttimeStart(ev models.FireEvent) signal {
	w := float64(c.cfg.Weights.NighttimeStart)
	n := c.cfg.NightHours
	hour := ev.FirstDetected.UTC().Hour() + c.utcOffset
	hour = ((hour % 24) + 24) % 24

	morningEnd := (n.PeakEndHour + n.ShoulderHours) % 24
	eveningStart := ((n.PeakStartHour-n.ShoulderHours)%24 + 24) % 24

	switch {
	case hourIn(hour, n.PeakStartHour, n.PeakEndHour):
		return signal{raw: w, available: true}
	case hourIn(hour, n.PeakEndHour, morningEnd):
		return signal{raw: w * 0.5, available: true}
	case hourIn(hour, eveningStart, n.PeakStartHour):
		return signal{raw: w * 0.5, available: true}
	default:
		return signal{raw: 0, available: true}
	}
}

// hourIn reports whether hour falls in [start, end), wrapping past
// midnight when start > end. An equal start and end is an empty window.
func hourIn(hour, start, end int) bool {
	if start <= end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

func (c *Classifier) historicalRepeat(count int, monthsSinceLast float64) signal {
	w := float64(c.cfg.Weights.HistoricalRepeat)
	if count == 0 || monthsSinceLast < 0 {
		return signal{raw: 0, available: true}
	}
	switch {
	case monthsSinceLast < 12:
		return signal{raw: w, available: true}
	case monthsSinceLast < 24:
		return signal{raw: w * 0.67, available: true}
	case monthsSinceLast < 36:
		return signal{raw: w * 0.33, available: true}
	default:
		return signal{raw: 0, available: true}
	}
}

// multiPoint scores simultaneous separate ignitions in the same cycle,
// a pattern natural causes rarely produce without storms.
func (c *Classifier) multiPoint(nearbyEventCount int) signal {
	w := float64(c.cfg.Weights.MultiPoint)
	switch {
	case nearbyEventCount >= 2:
		return signal{raw: w, available: true}
	case nearbyEventCount == 1:
		return signal{raw: w * 0.5, available: true}
	default:
		return signal{raw: 0, available: true}
	}
}

func (c *Classifier) dryConditions(weather *models.WeatherContext) signal {
	if weather == nil {
		return signal{}
	}
	w := float64(c.cfg.Weights.DryConditions)
	d := c.cfg.Dryness
	switch {
	case weather.RelativeHumidity < d.HumidityLowPct && weather.PrecipLast72h == 0:
		return signal{raw: w, available: true}
	case weather.RelativeHumidity < d.HumidityMidPct && weather.PrecipLast72h < d.PrecipTraceMM:
		return signal{raw: w * 0.5, available: true}
	default:
		return signal{raw: 0, available: true}
	}
}
