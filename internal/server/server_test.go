package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"clan-tracker/internal/api"
	"clan-tracker/internal/config"
	"clan-tracker/internal/database"
	"clan-tracker/internal/db"
	"clan-tracker/internal/domain"
	"clan-tracker/internal/ledger"
	"clan-tracker/internal/repository"
	"clan-tracker/internal/service"
	"clan-tracker/internal/tracking"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClanAPI map[string]*api.Clan

func (f fakeClanAPI) Clan(_ context.Context, tag string) (*api.Clan, error) {
	c, ok := f[tag]
	if !ok {
		return nil, fmt.Errorf("clan: %w", api.ErrNotFound)
	}
	return c, nil
}

type stubTracker struct {
	kind domain.Kind
	err  error
}

func (s stubTracker) Kind() domain.Kind { return s.kind }

func (s stubTracker) CheckOneClan(_ context.Context, clan domain.TrackedClan) ([]domain.Event, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []domain.Event{domain.EpisodeStarted(s.kind, clan.Tag+"|E1", domain.PhaseBattle)}, nil
}

func (s stubTracker) CheckAllClans(context.Context) error { return nil }

type fixedRateLimits api.RateLimitInfo

func (f fixedRateLimits) GetRateLimitInfo() api.RateLimitInfo { return api.RateLimitInfo(f) }

type testServer struct {
	handler http.Handler
	records *tracking.Records
	clans   *repository.ClanRepository
}

func newTestServer(t *testing.T, trackers ...tracking.Tracker) *testServer {
	t.Helper()

	cfg := &config.Config{DBPath: filepath.Join(t.TempDir(), "server.db")}
	sqlDB, err := database.New(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	queries := db.New(sqlDB)
	clans := repository.NewClanRepository(sqlDB, queries, zerolog.Nop())
	trackingRepo := repository.NewTrackingRepository(sqlDB, queries, zerolog.Nop())
	records := tracking.NewRecords(trackingRepo)

	coc := fakeClanAPI{
		"#AAA": {Tag: "#AAA", Name: "Ours"},
		"#2Y0": {Tag: "#2Y0", Name: "Zero"},
	}
	svc := service.NewClanService(coc, clans, trackingRepo, records, trackers, zerolog.Nop())
	srv := NewTrackerServer(svc, ledger.NewLedger(records, zerolog.Nop()), fixedRateLimits{Limit: 10, Remaining: 7}, zerolog.Nop())

	return &testServer{handler: srv.Routes(), records: records, clans: clans}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) activeWar(t *testing.T) {
	t.Helper()
	require.NoError(t, ts.records.Commit(context.Background(), &domain.TrackingRecord{
		ClanTag:    "#AAA",
		GuildID:    "guild-1",
		Kind:       domain.KindWar,
		IsActive:   true,
		Phase:      domain.PhaseBattle,
		ExternalID: "#AAA|#EEE|2024-03-01T12:00:00Z",
		TeamSize:   5,
	}))
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestClanRegistration(t *testing.T) {
	ts := newTestServer(t)
	body := clanRequest{GuildID: "guild-1", TrackWar: true, Channels: domain.Channels{War: "https://hooks.example/war"}}

	rec := ts.do(t, http.MethodPut, "/clans/%23aaa", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	clan := decode[clanResponse](t, rec)
	assert.Equal(t, "#AAA", clan.Tag)
	assert.Equal(t, "Ours", clan.Name)
	assert.True(t, clan.TrackWar)
	assert.False(t, clan.TrackCapital)
	assert.Equal(t, "https://hooks.example/war", clan.Channels.War)

	// tags without the leading hash and with a letter O are normalized
	rec = ts.do(t, http.MethodPut, "/clans/2yo", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "#2Y0", decode[clanResponse](t, rec).Tag)

	rec = ts.do(t, http.MethodGet, "/clans", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]clanResponse](t, rec), 2)

	rec = ts.do(t, http.MethodGet, "/clans/AAA", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"unknown to the game API", http.MethodPut, "/clans/%23QQQ", body, http.StatusNotFound},
		{"missing guild", http.MethodPut, "/clans/%23AAA", clanRequest{}, http.StatusBadRequest},
		{"bad body", http.MethodPut, "/clans/%23AAA", "nope", http.StatusBadRequest},
		{"unregistered clan", http.MethodGet, "/clans/%23QQQ", nil, http.StatusNotFound},
		{"remove", http.MethodDelete, "/clans/%232Y0", nil, http.StatusNoContent},
		{"remove twice", http.MethodDelete, "/clans/%232Y0", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestActiveRecord(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/clans/%23AAA/records/war", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, msgNoData, decode[errorResponse](t, rec).Error)

	rec = ts.do(t, http.MethodGet, "/clans/%23AAA/records/raids", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.activeWar(t)

	rec = ts.do(t, http.MethodGet, "/clans/%23AAA/records/WAR", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[domain.TrackingRecord](t, rec)
	assert.Equal(t, "#AAA|#EEE|2024-03-01T12:00:00Z", got.ExternalID)
	assert.Equal(t, domain.PhaseBattle, got.Phase)

	rec = ts.do(t, http.MethodGet, "/clans/%23AAA/records/war?episode="+url.QueryEscape(got.ExternalID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, got.ID, decode[domain.TrackingRecord](t, rec).ID)

	rec = ts.do(t, http.MethodGet, "/clans/%23AAA/records/war?episode=unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/clans/%23AAA/records/war/history?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.TrackingRecord](t, rec), 1)

	rec = ts.do(t, http.MethodGet, "/clans/%23AAA/records/war/history?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCalls(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/clans/%23AAA/calls", callRequest{Base: 3, Owner: "U1"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, domain.ErrNoActiveWar.Error(), decode[errorResponse](t, rec).Error)

	ts.activeWar(t)

	rec = ts.do(t, http.MethodPost, "/clans/%23AAA/calls", callRequest{Base: 3, Owner: "U1", Note: "dragons"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[domain.Reservation](t, rec)
	assert.Equal(t, 3, res.BaseNumber)
	assert.Equal(t, "U1", res.OwnerID)
	assert.NotEmpty(t, res.ID)

	rec = ts.do(t, http.MethodPost, "/clans/%23AAA/calls", callRequest{Base: 3, Owner: "U2"})
	require.Equal(t, http.StatusConflict, rec.Code)
	conflict := decode[errorResponse](t, rec)
	assert.Equal(t, "U1", conflict.Owner)
	assert.Equal(t, 3, conflict.Base)
	assert.Equal(t, domain.ErrAlreadyReserved.Error(), conflict.Error)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"base beyond team size", http.MethodPost, "/clans/%23AAA/calls", callRequest{Base: 9, Owner: "U1"}, http.StatusBadRequest},
		{"missing owner", http.MethodPost, "/clans/%23AAA/calls", callRequest{Base: 2}, http.StatusBadRequest},
		{"uncall without owner", http.MethodDelete, "/clans/%23AAA/calls/3", nil, http.StatusBadRequest},
		{"uncall bad base", http.MethodDelete, "/clans/%23AAA/calls/x?owner=U1", nil, http.StatusBadRequest},
		{"uncall by other owner", http.MethodDelete, "/clans/%23AAA/calls/3?owner=U2", nil, http.StatusConflict},
		{"uncall", http.MethodDelete, "/clans/%23AAA/calls/3?owner=U1", nil, http.StatusNoContent},
		{"uncall twice", http.MethodDelete, "/clans/%23AAA/calls/3?owner=U1", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec = ts.do(t, http.MethodGet, "/clans/%23AAA/calls", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]domain.Reservation](t, rec))
}

func TestPoll(t *testing.T) {
	ts := newTestServer(t,
		stubTracker{kind: domain.KindWar},
		stubTracker{kind: domain.KindCWL, err: domain.Transient("league group", errors.New("503"))},
	)
	require.NoError(t, ts.clans.Upsert(context.Background(), &domain.TrackedClan{Tag: "#AAA", GuildID: "guild-1", Name: "Ours"}))

	rec := ts.do(t, http.MethodPost, "/clans/%23AAA/poll/war", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	events := decode[[]eventResponse](t, rec)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventEpisodeStarted, events[0].Type)
	assert.Equal(t, "War started", events[0].Title)

	rec = ts.do(t, http.MethodPost, "/clans/%23AAA/poll/cwl", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, msgNoData, decode[errorResponse](t, rec).Error)

	rec = ts.do(t, http.MethodPost, "/clans/%23AAA/poll/capital", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/clans/%23QQQ/poll/war", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[healthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 7, health.RateLimit.Remaining)

	rec = ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	rec = ts.do(t, http.MethodPost, "/healthz", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
