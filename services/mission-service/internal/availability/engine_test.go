package availability

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/interval"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/model"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/policy"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/windows"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

func clock(h int) time.Time {
	return day.Add(time.Duration(h) * time.Hour)
}

func ptr[T any](v T) *T { return &v }

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(policy.Default(), nil)
	require.NoError(t, err)
	return e
}

// missionA flies out at 05:00; the block-out runs 02:00-15:00.
func missionA() model.Mission {
	return model.Mission{ID: "A", ResourceID: "N1", Departure: clock(2), Return: clock(15), TotalLegHours: 10, Status: model.StatusBooked}
}

func TestNewFailsFastOnBadPolicy(t *testing.T) {
	p := policy.Default()
	p.PreBuffer = -time.Hour
	_, err := New(p, nil)
	var cfgErr *policy.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestValidateStartInsidePreUse(t *testing.T) {
	e := newEngine(t)
	res, err := e.ValidateStart(clock(4), []model.Mission{missionA()})
	require.NoError(t, err)
	require.False(t, res.OK())
	assert.Equal(t, "A", res.Conflict.MissionID)
	assert.Equal(t, windows.PreUse, res.Conflict.WindowKind)
	assert.Equal(t, clock(18), res.Conflict.EarliestNext)
}

func TestValidateStartClear(t *testing.T) {
	e := newEngine(t)
	for _, tt := range []struct {
		name     string
		dep      time.Time
		existing []model.Mission
	}{
		{"after the gap", clock(18), []model.Mission{missionA()}},
		// The lookback [dep-3h, dep) ends exactly where A's block-out starts.
		{"lookback ends at block-out", clock(2), []model.Mission{missionA()}},
		{"nothing booked", clock(4), nil},
	} {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.ValidateStart(tt.dep, tt.existing)
			require.NoError(t, err)
			assert.True(t, res.OK())
		})
	}
}

func TestValidateStartIgnoresCancelled(t *testing.T) {
	e := newEngine(t)
	a := missionA()
	a.Status = model.StatusCancelled
	res, err := e.ValidateStart(clock(4), []model.Mission{a})
	require.NoError(t, err)
	assert.True(t, res.OK())
}

func TestValidateStartRejectsMissingDeparture(t *testing.T) {
	e := newEngine(t)
	for _, dep := range []time.Time{{}, time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC)} {
		_, err := e.ValidateStart(dep, []model.Mission{missionA()})
		require.ErrorIs(t, err, windows.ErrInvalidMission)
		var ime *windows.InvalidMissionError
		require.ErrorAs(t, err, &ime)
		assert.Equal(t, "departure", ime.Field)
	}
}

func TestValidateMissionShapeErrors(t *testing.T) {
	e := newEngine(t)
	base := model.Mission{ID: "C", ResourceID: "N1", Departure: clock(20), Return: clock(32)}
	tests := []struct {
		name   string
		field  string
		mutate func(*model.Mission)
	}{
		{"return before departure", "return", func(m *model.Mission) { m.Return = clock(19) }},
		{"return equals departure", "return", func(m *model.Mission) { m.Return = m.Departure }},
		{"too short for buffers", "leg-primary", func(m *model.Mission) { m.Return = clock(25) }},
		{"secondary before departure", "secondary_departure", func(m *model.Mission) {
			m.SecondaryDeparture, m.SecondaryReturn = ptr(clock(19)), ptr(clock(24))
		}},
		{"secondary reversed", "secondary_return", func(m *model.Mission) {
			m.SecondaryDeparture, m.SecondaryReturn = ptr(clock(25)), ptr(clock(24))
		}},
		{"secondary after return", "return", func(m *model.Mission) {
			m.SecondaryDeparture, m.SecondaryReturn = ptr(clock(24)), ptr(clock(33))
		}},
		// Secondary leg starting inside the pre-use buffer.
		{"secondary inside pre-use", "leg-primary", func(m *model.Mission) {
			m.SecondaryDeparture, m.SecondaryReturn = ptr(clock(21)), ptr(clock(26))
		}},
		{"zero dwell", "leg-secondary", func(m *model.Mission) {
			m.SecondaryDeparture, m.SecondaryReturn = ptr(clock(25)), ptr(clock(25))
		}},
		{"missing departure", "departure", func(m *model.Mission) { m.Departure = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := base
			tt.mutate(&m)
			_, err := e.ValidateMission(m, []model.Mission{missionA()})
			require.True(t, errors.Is(err, windows.ErrInvalidMission), "got %v", err)
			var ime *windows.InvalidMissionError
			require.ErrorAs(t, err, &ime)
			assert.Equal(t, tt.field, ime.Field)
		})
	}
}

func TestValidateMissionMinimumDuration(t *testing.T) {
	p := policy.Default()
	p.PreBuffer, p.PostBuffer = 0, 0
	p.MinMission = time.Hour
	e, err := New(p, nil)
	require.NoError(t, err)

	_, err = e.ValidateMission(model.Mission{Departure: clock(1), Return: clock(1).Add(30 * time.Minute)}, nil)
	assert.ErrorIs(t, err, windows.ErrInvalidMission)
	res, err := e.ValidateMission(model.Mission{Departure: clock(1), Return: clock(2)}, nil)
	require.NoError(t, err)
	assert.True(t, res.OK())
}

func TestValidateMissionWindowOverlap(t *testing.T) {
	e := newEngine(t)
	// Starts well clear of A's pre-use lookback but its block-out runs into A.
	c := model.Mission{ID: "C", ResourceID: "N1", Departure: clock(-12), Return: clock(3)}
	res, err := e.ValidateMission(c, []model.Mission{missionA()})
	require.NoError(t, err)
	require.False(t, res.OK())
	assert.Equal(t, "A", res.Conflict.MissionID)
	assert.Equal(t, windows.PreUse, res.Conflict.WindowKind)
	assert.Equal(t, clock(18), res.Conflict.EarliestNext)
}

func TestValidateMissionAdjacentIsLegal(t *testing.T) {
	e := newEngine(t)
	c := model.Mission{ID: "C", ResourceID: "N1", Departure: clock(18), Return: clock(30)}
	res, err := e.ValidateMission(c, []model.Mission{missionA()})
	require.NoError(t, err)
	assert.True(t, res.OK())
}

func TestValidateMissionOtherResourceAndSelf(t *testing.T) {
	e := newEngine(t)
	c := missionA()
	c.Departure = clock(3)

	other := missionA()
	other.ResourceID = "N2"
	res, err := e.ValidateMission(c, []model.Mission{other})
	require.NoError(t, err)
	assert.True(t, res.OK(), "missions on another resource never conflict")

	res, err = e.ValidateMission(c, []model.Mission{missionA()})
	require.NoError(t, err)
	assert.True(t, res.OK(), "re-validating a mission against itself is not a conflict")
}

func TestValidateMissionTieBreakEarliestReturn(t *testing.T) {
	e := newEngine(t)
	late := model.Mission{ID: "late", ResourceID: "N1", Departure: clock(10), Return: clock(30)}
	early := model.Mission{ID: "early", ResourceID: "N1", Departure: clock(0), Return: clock(9)}
	c := model.Mission{ID: "C", ResourceID: "N1", Departure: clock(-20), Return: clock(12)}

	res, err := e.ValidateMission(c, []model.Mission{late, early})
	require.NoError(t, err)
	require.False(t, res.OK())
	assert.Equal(t, "early", res.Conflict.MissionID)
	assert.Equal(t, clock(12), res.Conflict.EarliestNext)

	// Equal returns fall back to mission id.
	twin := early
	twin.ID = "aaa"
	res, err = e.ValidateMission(c, []model.Mission{early, twin})
	require.NoError(t, err)
	assert.Equal(t, "aaa", res.Conflict.MissionID)
}

func TestValidateMissionExcludesInvalidExisting(t *testing.T) {
	var buf bytes.Buffer
	e, err := New(policy.Default(), slog.New(slog.NewJSONHandler(&buf, nil)))
	require.NoError(t, err)

	broken := model.Mission{ID: "broken", ResourceID: "N1", Return: clock(40)}
	c := model.Mission{ID: "C", ResourceID: "N1", Departure: clock(18), Return: clock(30)}
	res, err := e.ValidateMission(c, []model.Mission{broken, missionA()})
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Contains(t, buf.String(), "excluding invalid mission")
	assert.Contains(t, buf.String(), `"mission_id":"broken"`)
}

func TestValidateMissionExcludesMisorderedExisting(t *testing.T) {
	tests := []struct {
		name      string
		existing  model.Mission
		candidate model.Mission
	}{
		{
			"secondary return after return",
			model.Mission{ID: "bad", ResourceID: "N1", Departure: clock(0), Return: clock(10),
				SecondaryDeparture: ptr(clock(5)), SecondaryReturn: ptr(clock(40))},
			model.Mission{ID: "C", ResourceID: "N1", Departure: clock(20), Return: clock(30)},
		},
		{
			"return before departure",
			model.Mission{ID: "bad", ResourceID: "N1", Departure: clock(10), Return: clock(5)},
			model.Mission{ID: "C", ResourceID: "N1", Departure: clock(11), Return: clock(20)},
		},
		{
			"shorter than its buffers",
			model.Mission{ID: "bad", ResourceID: "N1", Departure: clock(10), Return: clock(12)},
			model.Mission{ID: "C", ResourceID: "N1", Departure: clock(15), Return: clock(25)},
		},
		{
			"return leg longer than total",
			model.Mission{ID: "bad", ResourceID: "N1", Departure: clock(10), Return: clock(22), TotalLegHours: 2, ReturnLegHours: ptr(5.0)},
			model.Mission{ID: "C", ResourceID: "N1", Departure: clock(12), Return: clock(24)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			e, err := New(policy.Default(), slog.New(slog.NewJSONHandler(&buf, nil)))
			require.NoError(t, err)

			res, err := e.ValidateMission(tt.candidate, []model.Mission{tt.existing})
			require.NoError(t, err)
			assert.True(t, res.OK(), "conflict: %+v", res.Conflict)
			assert.Contains(t, buf.String(), `"level":"WARN"`)
			assert.Contains(t, buf.String(), `"mission_id":"bad"`)

			start, err := e.ValidateStart(tt.candidate.Departure, []model.Mission{tt.existing})
			require.NoError(t, err)
			assert.True(t, start.OK())

			got, shifts, err := e.Suggest(tt.candidate, []model.Mission{tt.existing}, 4)
			require.NoError(t, err)
			assert.Zero(t, shifts)
			assert.Equal(t, tt.candidate.Departure, got.Departure)
		})
	}
}

func TestValidateMissionRejectsReturnLegLongerThanTotal(t *testing.T) {
	e := newEngine(t)
	c := model.Mission{ID: "C", ResourceID: "N1", Departure: clock(20), Return: clock(32), TotalLegHours: 4, ReturnLegHours: ptr(4.5)}
	_, err := e.ValidateMission(c, nil)
	var ime *windows.InvalidMissionError
	require.ErrorAs(t, err, &ime)
	assert.Equal(t, "return_leg_hours", ime.Field)

	c.ReturnLegHours = ptr(4.0)
	res, err := e.ValidateMission(c, nil)
	require.NoError(t, err)
	assert.True(t, res.OK())
}

// The pre-use lookback applies to the candidate only: a candidate may end exactly
// where an existing block-out starts, but the reverse booking order is refused
// because the later mission's lookback reaches into the earlier one's post-use.
func TestValidateMissionBookingOrderAsymmetry(t *testing.T) {
	e := newEngine(t)
	before := model.Mission{ID: "B", ResourceID: "N1", Departure: clock(-10), Return: clock(2)}

	res, err := e.ValidateMission(before, []model.Mission{missionA()})
	require.NoError(t, err)
	assert.True(t, res.OK(), "ending at an existing departure is accepted")

	res, err = e.ValidateMission(missionA(), []model.Mission{before})
	require.NoError(t, err)
	require.False(t, res.OK())
	assert.Equal(t, "B", res.Conflict.MissionID)
	assert.Equal(t, windows.PostUse, res.Conflict.WindowKind)
	assert.Equal(t, clock(5), res.Conflict.EarliestNext)
}

func TestValidateMissionIsIdempotent(t *testing.T) {
	e := newEngine(t)
	c := model.Mission{ID: "C", ResourceID: "N1", Departure: clock(4), Return: clock(16)}
	existing := []model.Mission{missionA()}
	first, err := e.ValidateMission(c, existing)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := e.ValidateMission(c, existing)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestSuggestReValidatesAfterEachShift(t *testing.T) {
	e := newEngine(t)
	existing := []model.Mission{
		missionA(),
		{ID: "B", ResourceID: "N1", Departure: clock(19), Return: clock(30)},
	}
	c := model.Mission{ID: "C", ResourceID: "N1", Departure: clock(4), Return: clock(12)}

	got, shifts, err := e.Suggest(c, existing, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, shifts)
	assert.Equal(t, clock(33), got.Departure)
	assert.Equal(t, 8*time.Hour, got.Return.Sub(got.Departure), "shape is preserved")

	_, _, err = e.Suggest(c, existing, 1)
	assert.ErrorIs(t, err, ErrNoSlot)
}

func TestSuggestWithShortGapStillProgresses(t *testing.T) {
	p := policy.Default()
	p.Gap = 0
	e, err := New(p, nil)
	require.NoError(t, err)

	c := model.Mission{ID: "C", ResourceID: "N1", Departure: clock(4), Return: clock(12)}
	got, _, err := e.Suggest(c, []model.Mission{missionA()}, 3)
	require.NoError(t, err)
	assert.Equal(t, clock(18), got.Departure)
}

func TestShiftMissionMovesSecondary(t *testing.T) {
	m := model.Mission{Departure: clock(1), Return: clock(10), SecondaryDeparture: ptr(clock(5)), SecondaryReturn: ptr(clock(6))}
	s := ShiftMission(m, time.Hour)
	assert.Equal(t, clock(6), *s.SecondaryDeparture)
	assert.Equal(t, clock(7), *s.SecondaryReturn)
	assert.Equal(t, clock(5), *m.SecondaryDeparture, "original untouched")
}

// Accepting missions one by one through ValidateMission never yields two
// missions whose windows overlap.
func TestAcceptedMissionsNeverOverlap(t *testing.T) {
	e := newEngine(t)
	r := rand.New(rand.NewPCG(3, 5))
	var accepted []model.Mission

	for i := 0; i < 400; i++ {
		dep := day.Add(time.Duration(r.IntN(24*14)) * time.Hour)
		c := model.Mission{
			ID:         fmt.Sprintf("m%03d", i),
			ResourceID: "N1",
			Departure:  dep,
			Return:     dep.Add(time.Duration(7+r.IntN(30)) * time.Hour),
		}
		res, err := e.ValidateMission(c, accepted)
		require.NoError(t, err)
		if res.OK() {
			accepted = append(accepted, c)
		}
	}
	require.NotEmpty(t, accepted)

	for i, a := range accepted {
		aw, err := windows.For(a, e.Policy())
		require.NoError(t, err)
		for _, b := range accepted[i+1:] {
			bw, err := windows.For(b, e.Policy())
			require.NoError(t, err)
			for _, x := range aw {
				for _, y := range bw {
					require.False(t, interval.Overlaps(x.Interval, y.Interval), "%s/%s overlaps %s/%s", a.ID, x.Kind, b.ID, y.Kind)
				}
			}
		}
	}
}

func TestFreeStarts(t *testing.T) {
	e := newEngine(t)
	template := model.Mission{ResourceID: "N1", Departure: clock(0), Return: clock(8)}
	starts, err := e.FreeStarts(template, clock(-12), clock(24), 2*time.Hour, []model.Mission{missionA()}, clock(-100))
	require.NoError(t, err)

	// [-12,-6] fit before A (block-out ends by 02:00); 18.. fit after the gap.
	want := []time.Time{clock(-12), clock(-10), clock(-8), clock(-6), clock(18), clock(20), clock(22)}
	assert.Equal(t, want, starts)

	starts, err = e.FreeStarts(template, clock(-12), clock(24), 2*time.Hour, []model.Mission{missionA()}, clock(19))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{clock(20), clock(22)}, starts)
}
