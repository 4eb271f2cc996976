package slots

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/interval"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/model"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/policy"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/timezone"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/windows"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2026, 11, 20, 0, 0, 0, 0, time.UTC)

func clock(h int) time.Time {
	return day.Add(time.Duration(h) * time.Hour)
}

func ptr[T any](v T) *T { return &v }

func newEnumerator(t *testing.T) *Enumerator {
	t.Helper()
	e, err := New(policy.Default(), nil)
	require.NoError(t, err)
	return e
}

func TestEnumerateEmptyDay(t *testing.T) {
	e := newEnumerator(t)
	got := Collect(e.Enumerate("N1", clock(0), clock(24), time.Hour, nil))
	require.Len(t, got, 24)
	for i, s := range got {
		assert.Equal(t, Available, s.Status)
		assert.Nil(t, s.Detail)
		assert.Equal(t, clock(i), s.Start)
		assert.Equal(t, time.Hour, s.Duration())
	}
}

func TestEnumerateBlocksEveryWindowKind(t *testing.T) {
	e := newEnumerator(t)
	m := model.Mission{ID: "A", ResourceID: "N1", Departure: clock(2), Return: clock(15)}
	got := Collect(e.Enumerate("N1", clock(0), clock(24), time.Hour, []model.Mission{m}))
	require.Len(t, got, 24)

	for i, s := range got {
		switch {
		case i < 2 || i >= 15:
			assert.Equal(t, Available, s.Status, "hour %d", i)
		case i < 5:
			require.Equal(t, Blocked, s.Status, "hour %d", i)
			assert.Equal(t, Detail{MissionID: "A", Kind: windows.PreUse}, *s.Detail)
		case i < 12:
			require.Equal(t, Blocked, s.Status, "hour %d", i)
			assert.Equal(t, windows.LegPrimary, s.Detail.Kind)
		default:
			require.Equal(t, Blocked, s.Status, "hour %d", i)
			assert.Equal(t, windows.PostUse, s.Detail.Kind)
		}
	}
}

func TestEnumerateKeepsBlockedSlotsAcrossMidnight(t *testing.T) {
	e := newEnumerator(t)
	// Post-use buffer runs 22:00-01:00.
	m := model.Mission{ID: "N", ResourceID: "N1", Departure: clock(12), Return: clock(25)}

	today := Collect(e.Enumerate("N1", clock(0), clock(24), time.Hour, []model.Mission{m}))
	tomorrow := Collect(e.Enumerate("N1", clock(24), clock(48), time.Hour, []model.Mission{m}))

	assert.Equal(t, Blocked, today[23].Status)
	assert.Equal(t, windows.PostUse, today[23].Detail.Kind)
	assert.Equal(t, Blocked, tomorrow[0].Status)
	assert.Equal(t, windows.PostUse, tomorrow[0].Detail.Kind)
	assert.Equal(t, Available, tomorrow[1].Status)
}

func TestEnumeratePartialOverlapAndClipping(t *testing.T) {
	e := newEnumerator(t)
	m := model.Mission{ID: "A", ResourceID: "N1", Departure: clock(2).Add(30 * time.Minute), Return: clock(9)}
	got := Collect(e.Enumerate("N1", clock(0), clock(3).Add(20*time.Minute), time.Hour, []model.Mission{m}))
	require.Len(t, got, 4)
	assert.Equal(t, Available, got[0].Status)
	assert.Equal(t, Available, got[1].Status)
	assert.Equal(t, Blocked, got[2].Status, "02:30 start blocks the 02:00 slot")
	assert.Equal(t, 20*time.Minute, got[3].Duration())
}

func TestEnumerateFiltersResourceAndStatus(t *testing.T) {
	e := newEnumerator(t)
	other := model.Mission{ID: "X", ResourceID: "N2", Departure: clock(0), Return: clock(10)}
	cancelled := model.Mission{ID: "Y", ResourceID: "N1", Departure: clock(0), Return: clock(10), Status: model.StatusCancelled}
	broken := model.Mission{ID: "Z", ResourceID: "N1", Return: clock(10)}

	for s := range e.Enumerate("N1", clock(0), clock(10), time.Hour, []model.Mission{other, cancelled, broken}) {
		assert.Equal(t, Available, s.Status)
	}
}

func TestEnumerateIsRestartableAndStoppable(t *testing.T) {
	e := newEnumerator(t)
	m := model.Mission{ID: "A", ResourceID: "N1", Departure: clock(2), Return: clock(15)}
	seq := e.Enumerate("N1", clock(0), clock(24), 30*time.Minute, []model.Mission{m})

	assert.Equal(t, Collect(seq), Collect(seq))

	n := 0
	for range seq {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestEnumerateDegenerateRange(t *testing.T) {
	e := newEnumerator(t)
	assert.Empty(t, Collect(e.Enumerate("N1", clock(5), clock(5), time.Hour, nil)))
	assert.Empty(t, Collect(e.Enumerate("N1", clock(0), clock(5), 0, nil)))
}

// The slot view and the window calculator agree on every slot.
func TestEnumerateSkipsMisorderedMissions(t *testing.T) {
	var buf bytes.Buffer
	e, err := New(policy.Default(), slog.New(slog.NewJSONHandler(&buf, nil)))
	require.NoError(t, err)

	missions := []model.Mission{
		{ID: "reversed", ResourceID: "N1", Departure: clock(10), Return: clock(5)},
		{ID: "overrun", ResourceID: "N1", Departure: clock(0), Return: clock(10),
			SecondaryDeparture: ptr(clock(5)), SecondaryReturn: ptr(clock(40))},
	}
	for s := range e.Enumerate("N1", clock(0), clock(24), time.Hour, missions) {
		require.Equal(t, Available, s.Status, "slot %s", s.Start)
	}
	assert.Contains(t, buf.String(), `"mission_id":"reversed"`)
	assert.Contains(t, buf.String(), `"mission_id":"overrun"`)
}

func TestEnumerateAgreesWithWindows(t *testing.T) {
	e := newEnumerator(t)
	missions := []model.Mission{
		{ID: "A", ResourceID: "N1", Departure: clock(1), Return: clock(11)},
		{ID: "B", ResourceID: "N1", Departure: clock(17), Return: clock(40)},
	}
	var all []windows.Window
	for _, m := range missions {
		ws, err := windows.For(m, e.policy)
		require.NoError(t, err)
		all = append(all, ws...)
	}
	for s := range e.Enumerate("N1", clock(0), clock(48), 15*time.Minute, missions) {
		blocked := false
		for _, w := range all {
			if interval.Overlaps(s.Interval, w.Interval) {
				blocked = true
			}
		}
		require.Equal(t, blocked, s.Status == Blocked, "slot %s", s.Start)
	}
}

func TestDayUsesZoneAndDisplayHours(t *testing.T) {
	e := newEnumerator(t)
	n := timezone.MustNew("+02:00")
	// Local 06:00-24:00 on 2026-11-20 is 04:00-22:00 UTC.
	m := model.Mission{ID: "A", ResourceID: "N1", Departure: clock(4), Return: clock(12)}

	seq, err := e.Day(n, "N1", "2026-11-20", []model.Mission{m})
	require.NoError(t, err)
	got := Collect(seq)
	require.Len(t, got, 36)
	assert.Equal(t, clock(4), got[0].Start)
	assert.Equal(t, "2026-11-20T06:00:00", n.ToWallClock(got[0].Start))
	assert.Equal(t, Blocked, got[0].Status)
	assert.Equal(t, Available, got[16].Status)

	_, err = e.Day(n, "N1", "20/11/2026", nil)
	assert.ErrorIs(t, err, timezone.ErrInvalidWallClock)
}
