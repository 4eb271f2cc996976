package availability

import (
	"cmp"
	"errors"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/interval"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/model"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/policy"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/windows"
)

var ErrNoSlot = errors.New("no legal start found within the shift limit")

// Conflict is the expected, recoverable outcome of a failed validation.
type Conflict struct {
	MissionID string
	Mission   model.Mission
	// WindowKind is the kind of the existing mission's window that was hit.
	WindowKind windows.Kind
	// EarliestNext is Mission.Return (buffer-inclusive) plus the policy gap.
	EarliestNext time.Time
}

type Result struct {
	Conflict *Conflict
}

func (r Result) OK() bool {
	return r.Conflict == nil
}

// Engine answers legality questions about missions on a single resource.
// It holds only immutable policy and is safe for concurrent use.
type Engine struct {
	policy policy.Policy
	logger *slog.Logger
}

func New(p policy.Policy, logger *slog.Logger) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{policy: p, logger: logger}, nil
}

func (e *Engine) Policy() policy.Policy {
	return e.policy
}

// ValidateStart checks only the pre-use requirement of a departure: the
// interval [departure-PreBuffer, departure) must be clear of every window of
// every blocking mission in existing. A missing departure is an
// *windows.InvalidMissionError.
func (e *Engine) ValidateStart(departure time.Time, existing []model.Mission) (Result, error) {
	if err := windows.CheckInstant("departure", departure); err != nil {
		return Result{}, err
	}
	lookback := interval.New(departure.Add(-e.policy.PreBuffer), departure)
	var found []Conflict
	for _, ex := range e.blocking("", "", existing) {
		if kind, ok := firstHit(lookback, ex.windows); ok {
			found = append(found, e.conflict(ex.mission, kind))
		}
	}
	return Result{Conflict: earliest(found)}, nil
}

// ValidateMission checks the candidate's own shape, then its start, then every
// candidate window against every window of every blocking mission on the same
// resource. Shape problems are returned as *windows.InvalidMissionError;
// conflicts are reported in the Result.
func (e *Engine) ValidateMission(candidate model.Mission, existing []model.Mission) (Result, error) {
	cws, err := e.shape(candidate)
	if err != nil {
		return Result{}, err
	}

	lookback := interval.New(candidate.Departure.Add(-e.policy.PreBuffer), candidate.Departure)
	var found []Conflict
	for _, ex := range e.blocking(candidate.ResourceID, candidate.ID, existing) {
		if kind, ok := firstHit(lookback, ex.windows); ok {
			found = append(found, e.conflict(ex.mission, kind))
			continue
		}
		for _, cw := range cws {
			if kind, ok := firstHit(cw.Interval, ex.windows); ok {
				found = append(found, e.conflict(ex.mission, kind))
				break
			}
		}
	}
	return Result{Conflict: earliest(found)}, nil
}

// Suggest shifts the candidate forward past each reported conflict and
// re-validates until it is legal or maxShifts shifts were made. The shape of
// the candidate (durations, secondary offsets) is preserved.
func (e *Engine) Suggest(candidate model.Mission, existing []model.Mission, maxShifts int) (model.Mission, int, error) {
	for shifts := 0; ; shifts++ {
		res, err := e.ValidateMission(candidate, existing)
		if err != nil {
			return model.Mission{}, shifts, err
		}
		if res.OK() {
			return candidate, shifts, nil
		}
		if shifts >= maxShifts {
			return model.Mission{}, shifts, ErrNoSlot
		}
		// EarliestNext alone may not clear the conflicting mission when the
		// gap is shorter than the pre-use lookback.
		next := res.Conflict.EarliestNext
		if floor := res.Conflict.Mission.Return.Add(e.policy.PreBuffer); next.Before(floor) {
			next = floor
		}
		candidate = ShiftMission(candidate, next.Sub(candidate.Departure))
	}
}

// ShiftMission moves every instant of m by d.
func ShiftMission(m model.Mission, d time.Duration) model.Mission {
	m.Departure = m.Departure.Add(d)
	m.Return = m.Return.Add(d)
	if m.SecondaryDeparture != nil {
		t := m.SecondaryDeparture.Add(d)
		m.SecondaryDeparture = &t
	}
	if m.SecondaryReturn != nil {
		t := m.SecondaryReturn.Add(d)
		m.SecondaryReturn = &t
	}
	return m
}

func (e *Engine) shape(c model.Mission) ([]windows.Window, error) {
	cws, err := windows.Derive(c, e.policy)
	if err != nil {
		return nil, err
	}
	if c.Return.Sub(c.Departure) < e.policy.MinMission {
		return nil, &windows.InvalidMissionError{
			MissionID: c.ID,
			Field:     "return",
			Reason:    "mission is shorter than the minimum of " + e.policy.MinMission.String(),
		}
	}
	return cws, nil
}

type blockingMission struct {
	mission model.Mission
	windows []windows.Window
}

// blocking derives windows for every mission that occupies resourceID,
// skipping selfID. Malformed missions, including ones with instants out of
// order, are excluded with a warning so one bad record cannot poison the set.
func (e *Engine) blocking(resourceID, selfID string, missions []model.Mission) []blockingMission {
	out := make([]blockingMission, 0, len(missions))
	for _, m := range missions {
		if !m.Blocking() {
			continue
		}
		if selfID != "" && m.ID == selfID {
			continue
		}
		if resourceID != "" && m.ResourceID != "" && m.ResourceID != resourceID {
			continue
		}
		ws, err := windows.Derive(m, e.policy)
		if err != nil {
			e.logger.Warn("excluding invalid mission from conflict set", "mission_id", m.ID, "resource_id", m.ResourceID, "err", err)
			continue
		}
		out = append(out, blockingMission{mission: m, windows: ws})
	}
	return out
}

func (e *Engine) conflict(m model.Mission, kind windows.Kind) Conflict {
	return Conflict{
		MissionID:    m.ID,
		Mission:      m,
		WindowKind:   kind,
		EarliestNext: m.Return.Add(e.policy.Gap),
	}
}

func firstHit(iv interval.Interval, ws []windows.Window) (windows.Kind, bool) {
	for _, w := range ws {
		if interval.Overlaps(iv, w.Interval) {
			return w.Kind, true
		}
	}
	return "", false
}

// earliest picks the first-blocking conflict: earliest Return, then mission ID.
func earliest(cs []Conflict) *Conflict {
	if len(cs) == 0 {
		return nil
	}
	best := cs[0]
	for _, c := range cs[1:] {
		if c.Mission.Return.Before(best.Mission.Return) ||
			(c.Mission.Return.Equal(best.Mission.Return) && cmp.Less(c.MissionID, best.MissionID)) {
			best = c
		}
	}
	return &best
}
