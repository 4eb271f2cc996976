package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/availability"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/booking"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/interval"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/model"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/policy"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/storage"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/timezone"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/windows"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Store is the read side the handlers need. *storage.MissionRepository
// satisfies it.
type Store interface {
	Snapshot(ctx context.Context, resourceID string, span interval.Interval) ([]model.Mission, error)
	Get(ctx context.Context, id string) (model.Mission, error)
	ListByResource(ctx context.Context, resourceID string, limit int) ([]model.Mission, error)
}

// Booker performs the locked write paths. *booking.Service satisfies it.
type Booker interface {
	Book(ctx context.Context, idempotencyKey string, candidate model.Mission, span interval.Interval, validate booking.ValidateFunc) (booking.Outcome, error)
	Cancel(ctx context.Context, missionID, reason string) (model.Mission, error)
}

type Options struct {
	// DefaultZone applies when a request names no zone.
	DefaultZone string
	// MaxShifts caps suggest requests that do not set max_shifts.
	MaxShifts int
	// SuggestHorizon bounds how far past the requested departure suggest
	// loads existing missions.
	SuggestHorizon time.Duration
	Now            func() time.Time
}

type MissionHandler struct {
	store  Store
	booker Booker
	policy policy.Provider
	logger *slog.Logger
	opts   Options
}

func NewMissionHandler(store Store, booker Booker, provider policy.Provider, logger *slog.Logger, opts Options) *MissionHandler {
	if opts.MaxShifts <= 0 {
		opts.MaxShifts = 48
	}
	if opts.SuggestHorizon <= 0 {
		opts.SuggestHorizon = 30 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &MissionHandler{store: store, booker: booker, policy: provider, logger: logger, opts: opts}
}

func (h *MissionHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/missions", h.Create)
	mux.HandleFunc("GET /api/v1/missions", h.List)
	mux.HandleFunc("POST /api/v1/missions/validate", h.Validate)
	mux.HandleFunc("GET /api/v1/missions/start-check", h.StartCheck)
	mux.HandleFunc("POST /api/v1/missions/suggest", h.Suggest)
	mux.HandleFunc("GET /api/v1/missions/windows", h.Windows)
	mux.HandleFunc("POST /api/v1/missions/cancel", h.Cancel)
	mux.HandleFunc("GET /api/v1/slots", h.Slots)
	mux.HandleFunc("GET /api/v1/slots/starts", h.FreeStarts)
}

func (h *MissionHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, n, ok := h.decodeMission(w, r)
	if !ok {
		return
	}
	m, err := req.mission(n)
	if err != nil {
		h.fail(w, "create", err)
		return
	}
	// Ids are assigned on insert.
	m.ID = ""

	ctx := r.Context()
	engine, err := h.engine(ctx, m.ResourceID)
	if err != nil {
		h.fail(w, "create", err)
		return
	}
	// Reject malformed candidates before taking the resource lock.
	if _, err := engine.ValidateMission(m, nil); err != nil {
		h.fail(w, "create", err)
		return
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	out, err := h.booker.Book(ctx, key, m, lookupSpan(engine, m), func(ctx context.Context, existing []model.Mission) (availability.Result, error) {
		return h.validate(ctx, engine, m, existing)
	})
	if err != nil {
		h.fail(w, "create", err)
		return
	}
	if !out.Result.OK() {
		writeJSON(w, http.StatusConflict, viewConflict(n, out.Result.Conflict))
		return
	}
	status := http.StatusCreated
	if out.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, viewMission(n, engine.Policy(), out.Mission))
}

// Validate is a dry run against a snapshot; nothing is locked or written.
func (h *MissionHandler) Validate(w http.ResponseWriter, r *http.Request) {
	req, n, ok := h.decodeMission(w, r)
	if !ok {
		return
	}
	m, err := req.mission(n)
	if err != nil {
		h.fail(w, "validate", err)
		return
	}
	ctx := r.Context()
	engine, err := h.engine(ctx, m.ResourceID)
	if err != nil {
		h.fail(w, "validate", err)
		return
	}
	existing, err := h.store.Snapshot(ctx, m.ResourceID, lookupSpan(engine, m))
	if err != nil {
		h.fail(w, "validate", err)
		return
	}
	res, err := h.validate(ctx, engine, m, existing)
	if err != nil {
		h.fail(w, "validate", err)
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{OK: res.OK(), Conflict: viewConflict(n, res.Conflict)})
}

func (h *MissionHandler) StartCheck(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n, ok := h.zone(w, q.Get("zone"))
	if !ok {
		return
	}
	resourceID := strings.TrimSpace(q.Get("resource_id"))
	if resourceID == "" {
		http.Error(w, "resource_id required", http.StatusBadRequest)
		return
	}
	dep, err := n.ToInstant(q.Get("departure"))
	if err != nil {
		http.Error(w, "invalid departure: "+err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	engine, err := h.engine(ctx, resourceID)
	if err != nil {
		h.fail(w, "start-check", err)
		return
	}
	lookback := interval.New(dep.Add(-engine.Policy().PreBuffer), dep)
	existing, err := h.store.Snapshot(ctx, resourceID, lookback)
	if err != nil {
		h.fail(w, "start-check", err)
		return
	}

	_, span := tracer().Start(ctx, "availability.ValidateStart", trace.WithAttributes(
		attribute.String("resource_id", resourceID),
		attribute.Int("existing", len(existing)),
	))
	res, err := engine.ValidateStart(dep, existing)
	span.End()
	if err != nil {
		h.fail(w, "start-check", err)
		return
	}

	writeJSON(w, http.StatusOK, checkResponse{OK: res.OK(), Conflict: viewConflict(n, res.Conflict)})
}

type suggestResponse struct {
	Mission missionView `json:"mission"`
	Shifts  int         `json:"shifts"`
}

func (h *MissionHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	req, n, ok := h.decodeMission(w, r)
	if !ok {
		return
	}
	m, err := req.mission(n)
	if err != nil {
		h.fail(w, "suggest", err)
		return
	}
	maxShifts := req.MaxShifts
	if maxShifts <= 0 || maxShifts > h.opts.MaxShifts {
		maxShifts = h.opts.MaxShifts
	}

	ctx := r.Context()
	engine, err := h.engine(ctx, m.ResourceID)
	if err != nil {
		h.fail(w, "suggest", err)
		return
	}
	window := interval.New(lookupSpan(engine, m).Start, m.Return.Add(h.opts.SuggestHorizon))
	existing, err := h.store.Snapshot(ctx, m.ResourceID, window)
	if err != nil {
		h.fail(w, "suggest", err)
		return
	}

	_, span := tracer().Start(ctx, "availability.Suggest", trace.WithAttributes(
		attribute.String("resource_id", m.ResourceID),
		attribute.Int("max_shifts", maxShifts),
	))
	got, shifts, err := engine.Suggest(m, existing, maxShifts)
	span.SetAttributes(attribute.Int("shifts", shifts))
	span.End()
	if errors.Is(err, availability.ErrNoSlot) || (err == nil && got.Return.After(window.End)) {
		http.Error(w, "no legal start within "+strconv.Itoa(maxShifts)+" shifts", http.StatusConflict)
		return
	}
	if err != nil {
		h.fail(w, "suggest", err)
		return
	}
	writeJSON(w, http.StatusOK, suggestResponse{Mission: viewMission(n, engine.Policy(), got), Shifts: shifts})
}

type windowsResponse struct {
	MissionID string       `json:"mission_id"`
	Windows   []windowView `json:"windows"`
}

func (h *MissionHandler) Windows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n, ok := h.zone(w, q.Get("zone"))
	if !ok {
		return
	}
	id := strings.TrimSpace(q.Get("id"))
	if id == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	m, err := h.store.Get(ctx, id)
	if err != nil {
		h.fail(w, "windows", err)
		return
	}
	p, err := h.policy.PolicyFor(ctx, m.ResourceID)
	if err != nil {
		h.fail(w, "windows", err)
		return
	}
	ws, err := windows.For(m, p)
	if err != nil {
		h.fail(w, "windows", err)
		return
	}
	writeJSON(w, http.StatusOK, windowsResponse{MissionID: m.ID, Windows: viewWindows(n, ws)})
}

func (h *MissionHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n, ok := h.zone(w, q.Get("zone"))
	if !ok {
		return
	}
	resourceID := strings.TrimSpace(q.Get("resource_id"))
	if resourceID == "" {
		http.Error(w, "resource_id required", http.StatusBadRequest)
		return
	}
	limit := 50
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > 200 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = v
	}
	ctx := r.Context()
	p, err := h.policy.PolicyFor(ctx, resourceID)
	if err != nil {
		h.fail(w, "list", err)
		return
	}
	missions, err := h.store.ListByResource(ctx, resourceID, limit)
	if err != nil {
		h.fail(w, "list", err)
		return
	}
	items := make([]missionView, 0, len(missions))
	for _, m := range missions {
		items = append(items, viewMission(n, p, m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type cancelRequest struct {
	MissionID string `json:"mission_id"`
	Reason    string `json:"reason"`
	Zone      string `json:"zone"`
}

func (h *MissionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	n, ok := h.zone(w, req.Zone)
	if !ok {
		return
	}
	req.MissionID = strings.TrimSpace(req.MissionID)
	if req.MissionID == "" {
		http.Error(w, "mission_id required", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	m, err := h.booker.Cancel(ctx, req.MissionID, strings.TrimSpace(req.Reason))
	if err != nil {
		h.fail(w, "cancel", err)
		return
	}
	p, err := h.policy.PolicyFor(ctx, m.ResourceID)
	if err != nil {
		h.fail(w, "cancel", err)
		return
	}
	writeJSON(w, http.StatusOK, viewMission(n, p, m))
}

func (h *MissionHandler) decodeMission(w http.ResponseWriter, r *http.Request) (missionRequest, *timezone.Normalizer, bool) {
	var req missionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return missionRequest{}, nil, false
	}
	n, ok := h.zone(w, req.Zone)
	return req, n, ok
}

func (h *MissionHandler) zone(w http.ResponseWriter, raw string) (*timezone.Normalizer, bool) {
	if strings.TrimSpace(raw) == "" {
		raw = h.opts.DefaultZone
	}
	n, err := timezone.New(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return n, true
}

// engine builds an engine for the policy in force on resourceID. Engines are
// cheap and hold no state beyond the policy.
func (h *MissionHandler) engine(ctx context.Context, resourceID string) (*availability.Engine, error) {
	p, err := h.policy.PolicyFor(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	return availability.New(p, h.logger)
}

func (h *MissionHandler) validate(ctx context.Context, engine *availability.Engine, m model.Mission, existing []model.Mission) (availability.Result, error) {
	_, span := tracer().Start(ctx, "availability.ValidateMission", trace.WithAttributes(
		attribute.String("resource_id", m.ResourceID),
		attribute.Int("existing", len(existing)),
	))
	defer span.End()

	res, err := engine.ValidateMission(m, existing)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	if c := res.Conflict; c != nil {
		span.SetAttributes(
			attribute.String("conflict.mission_id", c.MissionID),
			attribute.String("conflict.window_kind", string(c.WindowKind)),
		)
	}
	return res, nil
}

func (h *MissionHandler) fail(w http.ResponseWriter, op string, err error) {
	if writeEngineError(w, err) {
		return
	}
	var cfgErr *policy.ConfigurationError
	switch {
	case storage.IsNotFound(err):
		http.Error(w, "mission not found", http.StatusNotFound)
	case errors.Is(err, booking.ErrNotCancellable):
		http.Error(w, err.Error(), http.StatusConflict)
	case storage.IsConflict(err):
		http.Error(w, "mission overlaps an existing booking", http.StatusConflict)
	case errors.As(err, &cfgErr):
		h.logger.Error("policy misconfigured", "op", op, "err", err)
		http.Error(w, "policy misconfigured", http.StatusInternalServerError)
	default:
		h.logger.Error("mission request failed", "op", op, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// lookupSpan covers every existing mission that can conflict with m: anything
// touching its pre-use lookback or its own block-out.
func lookupSpan(engine *availability.Engine, m model.Mission) interval.Interval {
	return interval.New(m.Departure.Add(-engine.Policy().PreBuffer), m.Return)
}

func tracer() trace.Tracer {
	return otel.Tracer("mission-service/handlers")
}
