package slots

import (
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/interval"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/model"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/policy"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/timezone"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/windows"
)

type Status string

const (
	Available Status = "available"
	Blocked   Status = "blocked"
)

// Detail names the window that blocks a slot.
type Detail struct {
	MissionID string
	Kind      windows.Kind
}

type Slot struct {
	interval.Interval
	Status Status
	Detail *Detail
}

// Enumerator renders a resource's missions as fixed-size calendar slots. It
// has no buffer logic of its own: a slot is blocked exactly when it overlaps a
// window produced by windows.Derive.
type Enumerator struct {
	policy policy.Policy
	logger *slog.Logger
}

func New(p policy.Policy, logger *slog.Logger) (*Enumerator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Enumerator{policy: p, logger: logger}, nil
}

// Enumerate yields slots of length size covering [from, to); the last slot is
// clipped at to. The sequence is lazy and can be ranged over any number of
// times, each pass re-deriving windows from missions.
func (e *Enumerator) Enumerate(resourceID string, from, to time.Time, size time.Duration, missions []model.Mission) iter.Seq[Slot] {
	return func(yield func(Slot) bool) {
		if size <= 0 || !to.After(from) {
			return
		}
		ws := e.windowsOn(resourceID, interval.New(from, to), missions)
		for start := from; start.Before(to); start = start.Add(size) {
			end := start.Add(size)
			if end.After(to) {
				end = to
			}
			slot := Slot{Interval: interval.New(start, end), Status: Available}
			for _, w := range ws {
				if !w.Start.Before(end) {
					break
				}
				if interval.Overlaps(slot.Interval, w.Interval) {
					slot.Status = Blocked
					slot.Detail = &Detail{MissionID: w.MissionID, Kind: w.Kind}
					break
				}
			}
			if !yield(slot) {
				return
			}
		}
	}
}

// Day enumerates the display hours of a local calendar date at the policy's
// slot granularity. The date is resolved to absolute instants once, here.
func (e *Enumerator) Day(n *timezone.Normalizer, resourceID, date string, missions []model.Mission) (iter.Seq[Slot], error) {
	r, err := n.DayRange(date, e.policy.DayStartHour, e.policy.DayEndHour)
	if err != nil {
		return nil, err
	}
	return e.Enumerate(resourceID, r.Start, r.End, e.policy.SlotGranularity, missions), nil
}

// Collect drains a slot sequence.
func Collect(seq iter.Seq[Slot]) []Slot {
	return slices.Collect(seq)
}

// windowsOn returns the usable windows of resourceID's blocking missions that
// touch span, ordered by start.
func (e *Enumerator) windowsOn(resourceID string, span interval.Interval, missions []model.Mission) []windows.Window {
	var out []windows.Window
	for _, m := range missions {
		if !m.Blocking() || (resourceID != "" && m.ResourceID != "" && m.ResourceID != resourceID) {
			continue
		}
		ws, err := windows.Derive(m, e.policy)
		if err != nil {
			e.logger.Warn("skipping invalid mission in slot view", "mission_id", m.ID, "err", err)
			continue
		}
		for _, w := range ws {
			if !interval.Overlaps(w.Interval, span) {
				continue
			}
			out = append(out, w)
		}
	}
	slices.SortStableFunc(out, func(a, b windows.Window) int {
		return interval.Compare(a.Interval, b.Interval)
	})
	return out
}
