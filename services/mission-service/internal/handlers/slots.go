package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/interval"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/model"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/slots"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type slotsResponse struct {
	ResourceID string     `json:"resource_id"`
	Date       string     `json:"date"`
	Zone       string     `json:"zone"`
	Slots      []slotView `json:"slots"`
}

// Slots renders one local calendar day of a resource as fixed-size slots.
func (h *MissionHandler) Slots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n, ok := h.zone(w, q.Get("zone"))
	if !ok {
		return
	}
	resourceID := strings.TrimSpace(q.Get("resource_id"))
	date := strings.TrimSpace(q.Get("date"))
	if resourceID == "" || date == "" {
		http.Error(w, "resource_id and date required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	p, err := h.policy.PolicyFor(ctx, resourceID)
	if err != nil {
		h.fail(w, "slots", err)
		return
	}
	if raw := strings.TrimSpace(q.Get("slot_minutes")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > 24*60 {
			http.Error(w, "invalid slot_minutes", http.StatusBadRequest)
			return
		}
		p.SlotGranularity = time.Duration(v) * time.Minute
	}
	day, err := n.DayRange(date, p.DayStartHour, p.DayEndHour)
	if err != nil {
		h.fail(w, "slots", err)
		return
	}
	missions, err := h.store.Snapshot(ctx, resourceID, day)
	if err != nil {
		h.fail(w, "slots", err)
		return
	}

	enum, err := slots.New(p, h.logger)
	if err != nil {
		h.fail(w, "slots", err)
		return
	}
	seq, err := enum.Day(n, resourceID, date, missions)
	if err != nil {
		h.fail(w, "slots", err)
		return
	}

	_, span := tracer().Start(ctx, "slots.Day", trace.WithAttributes(
		attribute.String("resource_id", resourceID),
		attribute.String("date", date),
	))
	out := slotsResponse{ResourceID: resourceID, Date: date, Zone: n.Location().String(), Slots: []slotView{}}
	for s := range seq {
		out.Slots = append(out.Slots, viewSlot(n, s))
	}
	span.SetAttributes(attribute.Int("slots", len(out.Slots)))
	span.End()

	writeJSON(w, http.StatusOK, out)
}

type startsResponse struct {
	ResourceID string        `json:"resource_id"`
	Date       string        `json:"date"`
	Starts     []instantView `json:"starts"`
}

// FreeStarts lists departures on a local day at which a single-destination
// mission with the given block-out length would be legal.
func (h *MissionHandler) FreeStarts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n, ok := h.zone(w, q.Get("zone"))
	if !ok {
		return
	}
	resourceID := strings.TrimSpace(q.Get("resource_id"))
	date := strings.TrimSpace(q.Get("date"))
	if resourceID == "" || date == "" {
		http.Error(w, "resource_id and date required", http.StatusBadRequest)
		return
	}
	blockMinutes, err := strconv.Atoi(strings.TrimSpace(q.Get("block_minutes")))
	if err != nil || blockMinutes <= 0 {
		http.Error(w, "invalid block_minutes", http.StatusBadRequest)
		return
	}
	block := time.Duration(blockMinutes) * time.Minute

	ctx := r.Context()
	engine, err := h.engine(ctx, resourceID)
	if err != nil {
		h.fail(w, "free-starts", err)
		return
	}
	p := engine.Policy()
	day, err := n.DayRange(date, p.DayStartHour, p.DayEndHour)
	if err != nil {
		h.fail(w, "free-starts", err)
		return
	}

	legHours := (block - p.PreBuffer - p.PostBuffer).Hours()
	if legHours < 0 {
		legHours = 0
	}
	template := model.Mission{
		ResourceID:    resourceID,
		Departure:     day.Start,
		Return:        day.Start.Add(block),
		TotalLegHours: legHours,
	}
	// Any start in the day looks back PreBuffer and blocks forward block.
	lookup := interval.New(day.Start.Add(-p.PreBuffer), day.End.Add(block))
	missions, err := h.store.Snapshot(ctx, resourceID, lookup)
	if err != nil {
		h.fail(w, "free-starts", err)
		return
	}
	starts, err := engine.FreeStarts(template, day.Start, day.End, p.SlotGranularity, missions, h.opts.Now())
	if err != nil {
		h.fail(w, "free-starts", err)
		return
	}

	out := startsResponse{ResourceID: resourceID, Date: date, Starts: make([]instantView, 0, len(starts))}
	for _, t := range starts {
		out.Starts = append(out.Starts, viewInstant(n, t))
	}
	writeJSON(w, http.StatusOK, out)
}
