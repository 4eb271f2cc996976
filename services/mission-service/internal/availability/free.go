package availability

import (
	"time"

	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/model"
)

// FreeStarts returns departures within [from, to) stepped by step at which a
// mission shaped like template (its block-out length and secondary offsets)
// would validate against existing. Departures before now are skipped.
func (e *Engine) FreeStarts(template model.Mission, from, to time.Time, step time.Duration, existing []model.Mission, now time.Time) ([]time.Time, error) {
	if step <= 0 || !to.After(from) {
		return nil, nil
	}
	if _, err := e.shape(template); err != nil {
		return nil, err
	}

	var starts []time.Time
	for t := from; t.Before(to); t = t.Add(step) {
		if t.Before(now) {
			continue
		}
		c := ShiftMission(template, t.Sub(template.Departure))
		res, err := e.ValidateMission(c, existing)
		if err != nil {
			return nil, err
		}
		if res.OK() {
			starts = append(starts, t)
		}
	}
	return starts, nil
}
