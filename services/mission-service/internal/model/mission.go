package model

import "time"

const (
	StatusBooked    = "booked"
	StatusCancelled = "cancelled"
)

// Mission is one booking of a resource.
//
// Departure is the first blocked instant: the pre-use buffer starts there and
// the flight leaves Departure+PreBuffer. Return is buffer-inclusive: the
// resource is free again exactly at Return, so the post-use buffer already
// lies inside it. Use ActualReturn for the buffer-exclusive value; never add
// the post-use buffer to Return again.
type Mission struct {
	ID         string
	ResourceID string
	Departure  time.Time
	Return     time.Time

	// TotalLegHours is the combined outbound+return flight time.
	TotalLegHours float64
	// ReturnLegHours, when set, overrides the symmetric TotalLegHours/2 split.
	ReturnLegHours *float64

	SecondaryDeparture *time.Time
	SecondaryReturn    *time.Time

	Status       string
	CancelledAt  *time.Time
	CancelReason string
	CreatedAt    time.Time
}

// HasSecondary reports whether the mission flies base -> primary -> secondary -> base.
func (m Mission) HasSecondary() bool {
	return m.SecondaryDeparture != nil && m.SecondaryReturn != nil
}

// LegStart is the instant the outbound leg begins, after the pre-use buffer.
func (m Mission) LegStart(preBuffer time.Duration) time.Time {
	return m.Departure.Add(preBuffer)
}

// ActualReturn is the buffer-exclusive return: Return minus the post-use buffer.
func (m Mission) ActualReturn(postBuffer time.Duration) time.Time {
	return m.Return.Add(-postBuffer)
}

// ReturnLegDuration is the flight time of the leg back to base.
func (m Mission) ReturnLegDuration() time.Duration {
	h := m.TotalLegHours / 2
	if m.ReturnLegHours != nil {
		h = *m.ReturnLegHours
	}
	return time.Duration(h * float64(time.Hour))
}

// Blocking reports whether the mission occupies its resource. Candidates
// carry no status yet and block like booked missions.
func (m Mission) Blocking() bool {
	return m.Status == "" || m.Status == StatusBooked
}
