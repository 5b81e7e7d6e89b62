package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"clan-tracker/internal/api"
	"clan-tracker/internal/domain"
	"clan-tracker/internal/metrics"
	"clan-tracker/internal/middleware"
	"clan-tracker/internal/notify"
	"clan-tracker/internal/service"

	"github.com/rs/zerolog"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100

	msgNoData = "no data available yet, try again later"
)

// Reservations is the ledger surface the command handlers need.
type Reservations interface {
	Call(ctx context.Context, clanTag string, base int, ownerID, note string) (domain.Reservation, error)
	Uncall(ctx context.Context, clanTag string, base int, ownerID string) error
	List(ctx context.Context, clanTag string) ([]domain.Reservation, error)
}

type RateLimits interface {
	GetRateLimitInfo() api.RateLimitInfo
}

// TrackerServer is the JSON command surface over the tracking core.
type TrackerServer struct {
	clans  *service.ClanService
	ledger Reservations
	coc    RateLimits
	logger zerolog.Logger
}

func NewTrackerServer(clans *service.ClanService, ledger Reservations, coc RateLimits, logger zerolog.Logger) *TrackerServer {
	return &TrackerServer{
		clans:  clans,
		ledger: ledger,
		coc:    coc,
		logger: logger.With().Str("component", "server").Logger(),
	}
}

func (s *TrackerServer) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /clans", s.listClans)
	mux.HandleFunc("GET /clans/{tag}", s.getClan)
	mux.HandleFunc("PUT /clans/{tag}", s.registerClan)
	mux.HandleFunc("DELETE /clans/{tag}", s.removeClan)

	mux.HandleFunc("GET /clans/{tag}/records/{kind}", s.activeRecord)
	mux.HandleFunc("GET /clans/{tag}/records/{kind}/history", s.recordHistory)
	mux.HandleFunc("POST /clans/{tag}/poll/{kind}", s.poll)

	mux.HandleFunc("GET /clans/{tag}/calls", s.listCalls)
	mux.HandleFunc("POST /clans/{tag}/calls", s.call)
	mux.HandleFunc("DELETE /clans/{tag}/calls/{base}", s.uncall)

	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", s.health)
	return mux
}

type healthResponse struct {
	Status    string            `json:"status"`
	RateLimit api.RateLimitInfo `json:"rateLimit"`
}

func (s *TrackerServer) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", RateLimit: s.coc.GetRateLimitInfo()})
}

type clanRequest struct {
	GuildID      string          `json:"guildId"`
	TrackWar     bool            `json:"trackWar"`
	TrackCWL     bool            `json:"trackCwl"`
	TrackCapital bool            `json:"trackCapital"`
	Channels     domain.Channels `json:"channels"`
}

type clanResponse struct {
	Tag          string          `json:"tag"`
	GuildID      string          `json:"guildId"`
	Name         string          `json:"name"`
	TrackWar     bool            `json:"trackWar"`
	TrackCWL     bool            `json:"trackCwl"`
	TrackCapital bool            `json:"trackCapital"`
	Channels     domain.Channels `json:"channels"`
}

func toClanResponse(c domain.TrackedClan) clanResponse {
	return clanResponse{
		Tag:          c.Tag,
		GuildID:      c.GuildID,
		Name:         c.Name,
		TrackWar:     c.TrackWar,
		TrackCWL:     c.TrackCWL,
		TrackCapital: c.TrackCapital,
		Channels:     c.Channels,
	}
}

type callRequest struct {
	Base  int    `json:"base"`
	Owner string `json:"owner"`
	Note  string `json:"note"`
}

type eventResponse struct {
	Type        domain.EventType `json:"type"`
	Kind        domain.Kind      `json:"kind"`
	ExternalID  string           `json:"externalId"`
	Day         int              `json:"day,omitempty"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
}

type errorResponse struct {
	Error string `json:"error"`
	Owner string `json:"owner,omitempty"`
	Base  int    `json:"base,omitempty"`
}

func (s *TrackerServer) listClans(w http.ResponseWriter, r *http.Request) {
	clans, err := s.clans.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]clanResponse, 0, len(clans))
	for _, c := range clans {
		out = append(out, toClanResponse(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *TrackerServer) getClan(w http.ResponseWriter, r *http.Request) {
	clan, err := s.clans.Get(r.Context(), r.PathValue("tag"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClanResponse(*clan))
}

func (s *TrackerServer) registerClan(w http.ResponseWriter, r *http.Request) {
	var req clanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.GuildID == "" {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "guildId is required"})
		return
	}

	clan, err := s.clans.Register(r.Context(), domain.TrackedClan{
		Tag:          r.PathValue("tag"),
		GuildID:      req.GuildID,
		TrackWar:     req.TrackWar,
		TrackCWL:     req.TrackCWL,
		TrackCapital: req.TrackCapital,
		Channels:     req.Channels,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClanResponse(*clan))
}

func (s *TrackerServer) removeClan(w http.ResponseWriter, r *http.Request) {
	if err := s.clans.Remove(r.Context(), r.PathValue("tag")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *TrackerServer) activeRecord(w http.ResponseWriter, r *http.Request) {
	kind, ok := pathKind(w, r)
	if !ok {
		return
	}
	var rec *domain.TrackingRecord
	var err error
	if episode := r.URL.Query().Get("episode"); episode != "" {
		rec, err = s.clans.Episode(r.Context(), r.PathValue("tag"), kind, episode)
	} else {
		rec, err = s.clans.ActiveRecord(r.Context(), r.PathValue("tag"), kind)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *TrackerServer) recordHistory(w http.ResponseWriter, r *http.Request) {
	kind, ok := pathKind(w, r)
	if !ok {
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := s.clans.History(r.Context(), r.PathValue("tag"), kind, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *TrackerServer) poll(w http.ResponseWriter, r *http.Request) {
	kind, ok := pathKind(w, r)
	if !ok {
		return
	}
	clan, err := s.clans.Get(r.Context(), r.PathValue("tag"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	events, err := s.clans.Refresh(r.Context(), clan.Tag, kind)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	out := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		msg := notify.Render(notify.Notification{Event: ev, Clan: *clan})
		out = append(out, eventResponse{
			Type:        ev.Type,
			Kind:        ev.Kind,
			ExternalID:  ev.ExternalID,
			Day:         ev.Day,
			Title:       msg.Title,
			Description: msg.Description,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *TrackerServer) listCalls(w http.ResponseWriter, r *http.Request) {
	calls, err := s.ledger.List(r.Context(), domain.NormalizeTag(r.PathValue("tag")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, calls)
}

func (s *TrackerServer) call(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Owner == "" {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "owner is required"})
		return
	}

	res, err := s.ledger.Call(r.Context(), domain.NormalizeTag(r.PathValue("tag")), req.Base, req.Owner, req.Note)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *TrackerServer) uncall(w http.ResponseWriter, r *http.Request) {
	base, err := strconv.Atoi(r.PathValue("base"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "base must be a number"})
		return
	}
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "owner is required"})
		return
	}

	if err := s.ledger.Uncall(r.Context(), domain.NormalizeTag(r.PathValue("tag")), base, owner); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathKind(w http.ResponseWriter, r *http.Request) (domain.Kind, bool) {
	kind, ok := domain.ParseKind(r.PathValue("kind"))
	if !ok {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "unknown tracking kind " + strconv.Quote(r.PathValue("kind"))})
	}
	return kind, ok
}

// fail maps the error taxonomy onto HTTP. Only reservation conflicts carry
// detail back to the caller; fetch failures read as missing data.
func (s *TrackerServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	var resErr *domain.ReservationError
	switch {
	case errors.As(err, &resErr):
		status := http.StatusConflict
		if errors.Is(err, domain.ErrReservationNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, errorResponse{Error: resErr.Code.Error(), Owner: resErr.OwnerID, Base: resErr.BaseNumber})
	case errors.Is(err, domain.ErrInvalidBase), errors.Is(err, service.ErrUnknownKind):
		writeError(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrClanNotFound):
		writeError(w, http.StatusNotFound, errorResponse{Error: domain.ErrClanNotFound.Error()})
	case errors.Is(err, domain.ErrNoActiveWar):
		writeError(w, http.StatusNotFound, errorResponse{Error: domain.ErrNoActiveWar.Error()})
	case errors.Is(err, domain.ErrRecordNotFound), domain.IsTransient(err):
		writeError(w, http.StatusNotFound, errorResponse{Error: msgNoData})
	case errors.Is(err, domain.ErrPersistenceConflict):
		writeError(w, http.StatusConflict, errorResponse{Error: "record changed concurrently, retry"})
	default:
		s.logger.Error().
			Err(err).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, errorResponse{Error: http.StatusText(http.StatusInternalServerError)})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, body errorResponse) {
	writeJSON(w, status, body)
}
