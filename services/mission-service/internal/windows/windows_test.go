package windows

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/interval"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/model"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2026, 7, 4, 0, 0, 0, 0, time.UTC)

func clock(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func ptr[T any](v T) *T { return &v }

func TestForSingleDestination(t *testing.T) {
	// Flight leaves 05:00 for ten hours of legs; the block-out starts at 02:00
	// and Return already includes the post-use buffer.
	m := model.Mission{ID: "A", Departure: clock(2, 0), Return: clock(15, 0), TotalLegHours: 10}

	ws, err := For(m, policy.Default())
	require.NoError(t, err)
	require.Len(t, ws, 3)

	assert.Equal(t, PreUse, ws[0].Kind)
	assert.Equal(t, interval.New(clock(2, 0), clock(5, 0)), ws[0].Interval)
	assert.Equal(t, LegPrimary, ws[1].Kind)
	assert.Equal(t, interval.New(clock(5, 0), clock(12, 0)), ws[1].Interval)
	assert.Equal(t, PostUse, ws[2].Kind)
	assert.Equal(t, interval.New(clock(12, 0), clock(15, 0)), ws[2].Interval)
	for _, w := range ws {
		assert.Equal(t, "A", w.MissionID)
		assert.False(t, w.Invalid)
	}
}

func TestForSecondaryDestination(t *testing.T) {
	m := model.Mission{
		ID:                 "B",
		Departure:          clock(6, 0),
		SecondaryDeparture: ptr(clock(11, 0)),
		SecondaryReturn:    ptr(clock(14, 0)),
		Return:             clock(22, 0),
		TotalLegHours:      9,
	}
	ws, err := For(m, policy.Default())
	require.NoError(t, err)
	require.Len(t, ws, 5)

	want := []struct {
		kind       Kind
		start, end time.Time
	}{
		{PreUse, clock(6, 0), clock(9, 0)},
		{LegPrimary, clock(9, 0), clock(11, 0)},
		{LegSecondary, clock(11, 0), clock(14, 0)},
		{LegReturn, clock(14, 0), clock(19, 0)},
		{PostUse, clock(19, 0), clock(22, 0)},
	}
	for i, w := range want {
		assert.Equal(t, w.kind, ws[i].Kind)
		assert.Equal(t, w.start, ws[i].Start, "window %d start", i)
		assert.Equal(t, w.end, ws[i].End, "window %d end", i)
	}
}

func TestForFlagsDegenerateWindows(t *testing.T) {
	// Zero dwell at the secondary destination.
	m := model.Mission{
		ID:                 "C",
		Departure:          clock(6, 0),
		SecondaryDeparture: ptr(clock(11, 0)),
		SecondaryReturn:    ptr(clock(11, 0)),
		Return:             clock(20, 0),
	}
	ws, err := For(m, policy.Default())
	require.NoError(t, err)
	require.Len(t, ws, 5, "degenerate windows are kept")

	bad, ok := FirstInvalid(ws)
	require.True(t, ok)
	assert.Equal(t, LegSecondary, bad.Kind)
}

func TestForSecondaryInsidePreUseIsInvalid(t *testing.T) {
	m := model.Mission{
		ID:                 "D",
		Departure:          clock(6, 0),
		SecondaryDeparture: ptr(clock(7, 0)),
		SecondaryReturn:    ptr(clock(10, 0)),
		Return:             clock(20, 0),
	}
	ws, err := For(m, policy.Default())
	require.NoError(t, err)
	bad, ok := FirstInvalid(ws)
	require.True(t, ok)
	assert.Equal(t, LegPrimary, bad.Kind)
}

func TestForRejectsMalformedInput(t *testing.T) {
	ok := model.Mission{ID: "E", Departure: clock(1, 0), Return: clock(12, 0), TotalLegHours: 4}
	tests := []struct {
		name   string
		field  string
		mutate func(*model.Mission)
	}{
		{"missing departure", "departure", func(m *model.Mission) { m.Departure = time.Time{} }},
		{"missing return", "return", func(m *model.Mission) { m.Return = time.Time{} }},
		{"half secondary", "secondary", func(m *model.Mission) { m.SecondaryDeparture = ptr(clock(5, 0)) }},
		{"nan legs", "total_leg_hours", func(m *model.Mission) { m.TotalLegHours = math.NaN() }},
		{"inf legs", "total_leg_hours", func(m *model.Mission) { m.TotalLegHours = math.Inf(1) }},
		{"negative legs", "total_leg_hours", func(m *model.Mission) { m.TotalLegHours = -1 }},
		{"negative split", "return_leg_hours", func(m *model.Mission) { m.ReturnLegHours = ptr(-2.0) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ok
			tt.mutate(&m)
			ws, err := For(m, policy.Default())
			assert.Nil(t, ws, "no partial output")
			require.True(t, errors.Is(err, ErrInvalidMission))
			var ime *InvalidMissionError
			require.ErrorAs(t, err, &ime)
			assert.Equal(t, tt.field, ime.Field)
			assert.Equal(t, "E", ime.MissionID)
		})
	}
}

func TestForCrossesMidnight(t *testing.T) {
	m := model.Mission{ID: "F", Departure: clock(14, 0), Return: clock(25, 30)}
	ws, err := For(m, policy.Default())
	require.NoError(t, err)
	post := ws[len(ws)-1]
	assert.Equal(t, PostUse, post.Kind)
	assert.Equal(t, clock(22, 30), post.Start)
	assert.Equal(t, day.AddDate(0, 0, 1).Add(90*time.Minute), post.End)
}

// Every valid mission is tiled exactly by its windows: ordered, no gap, no overlap.
func TestWindowsTileMission(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	p := policy.Default()
	minutes := func(max int) time.Duration { return time.Duration(1+r.IntN(max)) * time.Minute }

	for i := 0; i < 1000; i++ {
		dep := day.Add(time.Duration(r.IntN(60*24*30)) * time.Minute)
		m := model.Mission{ID: "P", Departure: dep, TotalLegHours: float64(r.IntN(20))}
		legStart := dep.Add(p.PreBuffer)
		if r.IntN(2) == 0 {
			m.Return = legStart.Add(minutes(900)).Add(p.PostBuffer)
		} else {
			secDep := legStart.Add(minutes(600))
			secRet := secDep.Add(minutes(600))
			m.SecondaryDeparture, m.SecondaryReturn = &secDep, &secRet
			m.Return = secRet.Add(minutes(600)).Add(p.PostBuffer)
		}

		ws, err := For(m, p)
		require.NoError(t, err)
		require.Equal(t, interval.New(m.Departure, m.Return), Span(ws))
		for j, w := range ws {
			require.False(t, w.Invalid)
			if j > 0 {
				require.True(t, ws[j-1].End.Equal(w.Start), "gap or overlap at %d", j)
				require.False(t, interval.Overlaps(ws[j-1].Interval, w.Interval))
			}
		}
	}
}

func TestSpanOfNothing(t *testing.T) {
	assert.True(t, Span(nil).Empty())
}

func TestZeroBuffersAreNotDegenerate(t *testing.T) {
	p := policy.Default()
	p.PreBuffer, p.PostBuffer = 0, 0
	ws, err := For(model.Mission{ID: "G", Departure: clock(8, 0), Return: clock(9, 0)}, p)
	require.NoError(t, err)
	_, bad := FirstInvalid(ws)
	assert.False(t, bad)
	assert.True(t, ws[0].Empty())
	assert.Equal(t, interval.New(clock(8, 0), clock(9, 0)), ws[1].Interval)
}
