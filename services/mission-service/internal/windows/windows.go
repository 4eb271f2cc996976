package windows

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/interval"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/model"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/policy"
)

type Kind string

const (
	PreUse       Kind = "pre-use"
	LegPrimary   Kind = "leg-primary"
	LegSecondary Kind = "leg-secondary"
	LegReturn    Kind = "leg-return"
	PostUse      Kind = "post-use"
)

// Window is a typed sub-interval of a mission during which its resource is
// unavailable. Windows are derived on every call and never stored.
type Window struct {
	interval.Interval
	Kind      Kind
	MissionID string
	// Invalid marks a window whose End is not after its Start.
	Invalid bool
}

var ErrInvalidMission = errors.New("invalid mission")

// InvalidMissionError describes a malformed mission. It matches
// ErrInvalidMission with errors.Is.
type InvalidMissionError struct {
	MissionID string
	Field     string
	Reason    string
}

func (e *InvalidMissionError) Error() string {
	id := e.MissionID
	if id == "" {
		id = "candidate"
	}
	return fmt.Sprintf("invalid mission %s: %s %s", id, e.Field, e.Reason)
}

func (e *InvalidMissionError) Unwrap() error {
	return ErrInvalidMission
}

// For derives the ordered windows of m: three without a secondary destination,
// five with one. Degenerate windows are returned flagged Invalid rather than
// dropped. Malformed input yields an error and no windows.
func For(m model.Mission, p policy.Policy) ([]Window, error) {
	if err := checkFinite(m); err != nil {
		return nil, err
	}

	legStart := m.LegStart(p.PreBuffer)
	actualReturn := m.ActualReturn(p.PostBuffer)

	out := make([]Window, 0, 5)
	add := func(kind Kind, start, end time.Time, buffer time.Duration) {
		w := Window{Interval: interval.New(start, end), Kind: kind, MissionID: m.ID}
		// A buffer configured to zero is empty by definition, not degenerate.
		w.Invalid = !end.After(start) && !(isBuffer(kind) && buffer == 0)
		out = append(out, w)
	}

	add(PreUse, m.Departure, legStart, p.PreBuffer)
	if m.HasSecondary() {
		add(LegPrimary, legStart, *m.SecondaryDeparture, 0)
		add(LegSecondary, *m.SecondaryDeparture, *m.SecondaryReturn, 0)
		add(LegReturn, *m.SecondaryReturn, actualReturn, 0)
	} else {
		add(LegPrimary, legStart, actualReturn, 0)
	}
	add(PostUse, actualReturn, m.Return, p.PostBuffer)
	return out, nil
}

// Derive is For plus the ordering rules: the windows are returned only when
// every instant is in order and no window is degenerate.
func Derive(m model.Mission, p policy.Policy) ([]Window, error) {
	ws, err := For(m, p)
	if err != nil {
		return nil, err
	}
	if err := CheckOrdering(m); err != nil {
		return nil, err
	}
	if w, ok := FirstInvalid(ws); ok {
		return nil, &InvalidMissionError{MissionID: m.ID, Field: string(w.Kind), Reason: "window is empty or reversed"}
	}
	return ws, nil
}

// CheckOrdering enforces departure < return and, with a secondary
// destination, departure <= secondary departure <= secondary return <= return.
// An explicit return leg may not exceed the total flight time.
func CheckOrdering(m model.Mission) error {
	bad := func(field, reason string) error {
		return &InvalidMissionError{MissionID: m.ID, Field: field, Reason: reason}
	}
	if !m.Return.After(m.Departure) {
		return bad("return", "must be after departure")
	}
	if m.HasSecondary() {
		switch {
		case m.SecondaryDeparture.Before(m.Departure):
			return bad("secondary_departure", "must not be before departure")
		case m.SecondaryReturn.Before(*m.SecondaryDeparture):
			return bad("secondary_return", "must not be before secondary departure")
		case m.Return.Before(*m.SecondaryReturn):
			return bad("return", "must not be before secondary return")
		}
	}
	if m.ReturnLegHours != nil && *m.ReturnLegHours > m.TotalLegHours {
		return bad("return_leg_hours", "must not exceed total_leg_hours")
	}
	return nil
}

// CheckInstant rejects a missing or unrepresentable instant.
func CheckInstant(field string, t time.Time) error {
	if !representable(t) {
		return &InvalidMissionError{Field: field, Reason: "is missing or out of range"}
	}
	return nil
}

func isBuffer(k Kind) bool {
	return k == PreUse || k == PostUse
}

// FirstInvalid returns the first degenerate window, if any.
func FirstInvalid(ws []Window) (Window, bool) {
	for _, w := range ws {
		if w.Invalid {
			return w, true
		}
	}
	return Window{}, false
}

// Span is the interval from the first window's start to the last window's end.
func Span(ws []Window) interval.Interval {
	if len(ws) == 0 {
		return interval.Interval{}
	}
	return interval.New(ws[0].Start, ws[len(ws)-1].End)
}

func checkFinite(m model.Mission) error {
	bad := func(field, reason string) error {
		return &InvalidMissionError{MissionID: m.ID, Field: field, Reason: reason}
	}
	if !representable(m.Departure) {
		return bad("departure", "is missing or out of range")
	}
	if !representable(m.Return) {
		return bad("return", "is missing or out of range")
	}
	if (m.SecondaryDeparture == nil) != (m.SecondaryReturn == nil) {
		return bad("secondary", "departure and return must be set together")
	}
	if m.HasSecondary() {
		if !representable(*m.SecondaryDeparture) {
			return bad("secondary_departure", "is missing or out of range")
		}
		if !representable(*m.SecondaryReturn) {
			return bad("secondary_return", "is missing or out of range")
		}
	}
	if !finiteNonNegative(m.TotalLegHours) {
		return bad("total_leg_hours", "must be a finite non-negative number")
	}
	if m.ReturnLegHours != nil && !finiteNonNegative(*m.ReturnLegHours) {
		return bad("return_leg_hours", "must be a finite non-negative number")
	}
	return nil
}

func representable(t time.Time) bool {
	return !t.IsZero() && t.Year() >= 1 && t.Year() <= 9999
}

func finiteNonNegative(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f >= 0
}
