package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/availability"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/model"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/policy"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/slots"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/timezone"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/windows"
)

// missionRequest carries instants either as RFC3339 with an offset or as
// local wall-clock text in Zone.
type missionRequest struct {
	ID                 string   `json:"mission_id"`
	ResourceID         string   `json:"resource_id"`
	Zone               string   `json:"zone"`
	Departure          string   `json:"departure"`
	Return             string   `json:"return"`
	TotalLegHours      float64  `json:"total_leg_hours"`
	ReturnLegHours     *float64 `json:"return_leg_hours,omitempty"`
	SecondaryDeparture string   `json:"secondary_departure,omitempty"`
	SecondaryReturn    string   `json:"secondary_return,omitempty"`
	MaxShifts          int      `json:"max_shifts,omitempty"`
}

// badRequestError marks input that never reached the engine.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &badRequestError{msg: fmt.Sprintf(format, args...)}
}

func (req missionRequest) mission(n *timezone.Normalizer) (model.Mission, error) {
	resourceID := strings.TrimSpace(req.ResourceID)
	if resourceID == "" {
		return model.Mission{}, badRequest("resource_id required")
	}
	instant := func(field, raw string) (time.Time, error) {
		t, err := n.ToInstant(raw)
		if err != nil {
			return time.Time{}, badRequest("invalid %s: %v", field, err)
		}
		return t, nil
	}

	dep, err := instant("departure", req.Departure)
	if err != nil {
		return model.Mission{}, err
	}
	ret, err := instant("return", req.Return)
	if err != nil {
		return model.Mission{}, err
	}
	m := model.Mission{
		ID:             strings.TrimSpace(req.ID),
		ResourceID:     resourceID,
		Departure:      dep,
		Return:         ret,
		TotalLegHours:  req.TotalLegHours,
		ReturnLegHours: req.ReturnLegHours,
	}

	secDep, secRet := strings.TrimSpace(req.SecondaryDeparture), strings.TrimSpace(req.SecondaryReturn)
	if (secDep == "") != (secRet == "") {
		return model.Mission{}, badRequest("secondary_departure and secondary_return must be given together")
	}
	if secDep != "" {
		sd, err := instant("secondary_departure", secDep)
		if err != nil {
			return model.Mission{}, err
		}
		sr, err := instant("secondary_return", secRet)
		if err != nil {
			return model.Mission{}, err
		}
		m.SecondaryDeparture, m.SecondaryReturn = &sd, &sr
	}
	return m, nil
}

type instantView struct {
	UTC    string `json:"utc"`
	Local  string `json:"local"`
	Offset string `json:"offset"`
}

func viewInstant(n *timezone.Normalizer, t time.Time) instantView {
	return instantView{
		UTC:    t.UTC().Format(time.RFC3339),
		Local:  n.ToWallClock(t),
		Offset: n.Offset(t),
	}
}

func viewInstantPtr(n *timezone.Normalizer, t *time.Time) *instantView {
	if t == nil {
		return nil
	}
	v := viewInstant(n, *t)
	return &v
}

// missionView carries the stored instants plus the derived, buffer-exclusive
// ones: LegStart is when the flight leaves, ActualReturn when it is back.
type missionView struct {
	ID                      string       `json:"mission_id"`
	ResourceID              string       `json:"resource_id"`
	Status                  string       `json:"status,omitempty"`
	Departure               instantView  `json:"departure"`
	Return                  instantView  `json:"return"`
	LegStart                instantView  `json:"leg_start"`
	ActualReturn            instantView  `json:"actual_return"`
	TotalLegHours           float64      `json:"total_leg_hours"`
	ReturnLegHours          *float64     `json:"return_leg_hours,omitempty"`
	EffectiveReturnLegHours float64      `json:"effective_return_leg_hours"`
	SecondaryDeparture      *instantView `json:"secondary_departure,omitempty"`
	SecondaryReturn         *instantView `json:"secondary_return,omitempty"`
	CancelledAt             *instantView `json:"cancelled_at,omitempty"`
	CancelReason            string       `json:"cancel_reason,omitempty"`
}

func viewMission(n *timezone.Normalizer, p policy.Policy, m model.Mission) missionView {
	return missionView{
		ID:                      m.ID,
		ResourceID:              m.ResourceID,
		Status:                  m.Status,
		Departure:               viewInstant(n, m.Departure),
		Return:                  viewInstant(n, m.Return),
		LegStart:                viewInstant(n, m.LegStart(p.PreBuffer)),
		ActualReturn:            viewInstant(n, m.ActualReturn(p.PostBuffer)),
		TotalLegHours:           m.TotalLegHours,
		ReturnLegHours:          m.ReturnLegHours,
		EffectiveReturnLegHours: m.ReturnLegDuration().Hours(),
		SecondaryDeparture:      viewInstantPtr(n, m.SecondaryDeparture),
		SecondaryReturn:         viewInstantPtr(n, m.SecondaryReturn),
		CancelledAt:             viewInstantPtr(n, m.CancelledAt),
		CancelReason:            m.CancelReason,
	}
}

type windowView struct {
	Kind    windows.Kind `json:"kind"`
	Start   instantView  `json:"start"`
	End     instantView  `json:"end"`
	Invalid bool         `json:"invalid,omitempty"`
}

func viewWindows(n *timezone.Normalizer, ws []windows.Window) []windowView {
	out := make([]windowView, 0, len(ws))
	for _, w := range ws {
		out = append(out, windowView{
			Kind:    w.Kind,
			Start:   viewInstant(n, w.Start),
			End:     viewInstant(n, w.End),
			Invalid: w.Invalid,
		})
	}
	return out
}

type conflictView struct {
	ConflictingMissionID string       `json:"conflicting_mission_id"`
	ConflictWindowKind   windows.Kind `json:"conflict_window_kind"`
	EarliestNextInstant  string       `json:"earliest_next_instant"`
	EarliestNextLocal    string       `json:"earliest_next_local"`
}

func viewConflict(n *timezone.Normalizer, c *availability.Conflict) *conflictView {
	if c == nil {
		return nil
	}
	return &conflictView{
		ConflictingMissionID: c.MissionID,
		ConflictWindowKind:   c.WindowKind,
		EarliestNextInstant:  c.EarliestNext.UTC().Format(time.RFC3339),
		EarliestNextLocal:    n.ToWallClock(c.EarliestNext),
	}
}

type checkResponse struct {
	OK       bool          `json:"ok"`
	Conflict *conflictView `json:"conflict,omitempty"`
}

type slotView struct {
	Start      instantView  `json:"start"`
	End        instantView  `json:"end"`
	Status     slots.Status `json:"status"`
	MissionID  string       `json:"mission_id,omitempty"`
	WindowKind windows.Kind `json:"window_kind,omitempty"`
}

func viewSlot(n *timezone.Normalizer, s slots.Slot) slotView {
	v := slotView{
		Start:  viewInstant(n, s.Start),
		End:    viewInstant(n, s.End),
		Status: s.Status,
	}
	if s.Detail != nil {
		v.MissionID = s.Detail.MissionID
		v.WindowKind = s.Detail.Kind
	}
	return v
}

type invalidMissionView struct {
	Error     string `json:"error"`
	MissionID string `json:"mission_id,omitempty"`
	Field     string `json:"field"`
	Reason    string `json:"reason"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeEngineError maps shape and input errors to client statuses. It returns
// false for anything the caller should treat as an internal failure.
func writeEngineError(w http.ResponseWriter, err error) bool {
	var bad *badRequestError
	if errors.As(err, &bad) {
		http.Error(w, bad.msg, http.StatusBadRequest)
		return true
	}
	var invalid *windows.InvalidMissionError
	if errors.As(err, &invalid) {
		writeJSON(w, http.StatusUnprocessableEntity, invalidMissionView{
			Error:     "invalid mission",
			MissionID: invalid.MissionID,
			Field:     invalid.Field,
			Reason:    invalid.Reason,
		})
		return true
	}
	if errors.Is(err, timezone.ErrInvalidWallClock) || errors.Is(err, timezone.ErrUnknownZone) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return true
	}
	return false
}
