package timezone

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/interval"
)

// WallClockLayout is the egress form of a local wall-clock value. It carries
// no offset on purpose: the zone travels alongside it, never inside it.
const WallClockLayout = "2006-01-02T15:04:05"

const dateLayout = "2006-01-02"

var (
	ErrUnknownZone      = errors.New("unknown time zone")
	ErrInvalidWallClock = errors.New("invalid wall-clock value")
)

var ingressLayouts = []string{
	WallClockLayout,
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

var fixedOffset = regexp.MustCompile(`^(?:UTC)?([+-])(\d{2}):?(\d{2})$`)

// Normalizer is the single conversion point between local wall-clock values
// and canonical instants. Every instant it returns is in UTC.
type Normalizer struct {
	loc *time.Location
}

// New resolves zone as an IANA name ("Europe/Zurich"), a fixed offset
// ("+05:30", "UTC-03:00") or "" / "UTC".
func New(zone string) (*Normalizer, error) {
	zone = strings.TrimSpace(zone)
	if zone == "" || strings.EqualFold(zone, "UTC") || zone == "Z" {
		return &Normalizer{loc: time.UTC}, nil
	}
	if m := fixedOffset.FindStringSubmatch(zone); m != nil {
		h, _ := strconv.Atoi(m[2])
		mins, _ := strconv.Atoi(m[3])
		if h > 14 || mins > 59 {
			return nil, fmt.Errorf("%w: %q", ErrUnknownZone, zone)
		}
		secs := h*3600 + mins*60
		if m[1] == "-" {
			secs = -secs
		}
		return &Normalizer{loc: time.FixedZone(zone, secs)}, nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownZone, zone)
	}
	return &Normalizer{loc: loc}, nil
}

func MustNew(zone string) *Normalizer {
	n, err := New(zone)
	if err != nil {
		panic(err)
	}
	return n
}

func (n *Normalizer) Location() *time.Location {
	return n.loc
}

// Instant canonicalizes an absolute instant: UTC, monotonic reading dropped.
func Instant(t time.Time) time.Time {
	return t.Round(0).UTC()
}

// ToInstant converts a local wall-clock string to a canonical instant.
// Values that already carry an offset (RFC3339) are taken as absolute and the
// normalizer's zone is not applied a second time.
func (n *Normalizer) ToInstant(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidWallClock)
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return Instant(t), nil
	}
	for _, layout := range ingressLayouts {
		t, err := time.ParseInLocation(layout, raw, n.loc)
		if err != nil {
			continue
		}
		// Wall-clock values skipped by a forward DST transition get silently
		// normalized by the time package; reject them instead.
		if wall, err := time.Parse(layout, raw); err == nil && !sameWallClock(t, wall) {
			return time.Time{}, fmt.Errorf("%w: %q does not exist in %s", ErrInvalidWallClock, raw, n.loc)
		}
		return Instant(t), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidWallClock, raw)
}

func sameWallClock(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ah, amin, as := a.Clock()
	bh, bmin, bs := b.Clock()
	return ay == by && am == bm && ad == bd && ah == bh && amin == bmin && as == bs && a.Nanosecond() == b.Nanosecond()
}

// ToWallClock renders a canonical instant as local wall-clock text.
func (n *Normalizer) ToWallClock(t time.Time) string {
	return t.In(n.loc).Format(WallClockLayout)
}

// Offset returns the zone offset in effect at t, for presentation.
func (n *Normalizer) Offset(t time.Time) string {
	return t.In(n.loc).Format("-07:00")
}

// DayRange returns the instants bounding the local display hours of date.
// endHour 24 means the next local midnight.
func (n *Normalizer) DayRange(date string, startHour, endHour int) (interval.Interval, error) {
	day, err := time.ParseInLocation(dateLayout, strings.TrimSpace(date), n.loc)
	if err != nil {
		return interval.Interval{}, fmt.Errorf("%w: date %q", ErrInvalidWallClock, date)
	}
	if startHour < 0 || endHour > 24 || startHour >= endHour {
		return interval.Interval{}, fmt.Errorf("%w: hours %d..%d", ErrInvalidWallClock, startHour, endHour)
	}
	y, m, d := day.Date()
	start := time.Date(y, m, d, startHour, 0, 0, 0, n.loc)
	end := time.Date(y, m, d, endHour, 0, 0, 0, n.loc)
	return interval.New(Instant(start), Instant(end)), nil
}
