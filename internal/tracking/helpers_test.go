package tracking

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"clan-tracker/internal/api"
	"clan-tracker/internal/config"
	"clan-tracker/internal/database"
	"clan-tracker/internal/db"
	"clan-tracker/internal/domain"
	"clan-tracker/internal/ledger"
	"clan-tracker/internal/notify"
	"clan-tracker/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const ourTag = "#AAA"

type fakeFetcher struct {
	mu sync.Mutex

	wars       map[string]*api.War
	warErrs    map[string]error
	groups     map[string]*api.LeagueGroup
	leagueWars map[string]*api.War
	clans      map[string]*api.Clan
	seasons    map[string]*api.CapitalRaidSeasons
	seasonErrs map[string]error

	leagueWarCalls []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		wars:       make(map[string]*api.War),
		warErrs:    make(map[string]error),
		groups:     make(map[string]*api.LeagueGroup),
		leagueWars: make(map[string]*api.War),
		clans:      make(map[string]*api.Clan),
		seasons:    make(map[string]*api.CapitalRaidSeasons),
		seasonErrs: make(map[string]error),
	}
}

func notFound(what string) error {
	return fmt.Errorf("%s: %w", what, api.ErrNotFound)
}

func (f *fakeFetcher) setWar(clanTag string, w *api.War, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wars[clanTag] = w
	f.warErrs[clanTag] = err
}

func (f *fakeFetcher) CurrentWar(_ context.Context, clanTag string) (*api.War, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.warErrs[clanTag]; err != nil {
		return nil, err
	}
	w, ok := f.wars[clanTag]
	if !ok || w == nil {
		return nil, notFound("current war")
	}
	return w, nil
}

func (f *fakeFetcher) LeagueGroup(_ context.Context, clanTag string) (*api.LeagueGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[clanTag]
	if !ok {
		return nil, notFound("league group")
	}
	return g, nil
}

func (f *fakeFetcher) LeagueWar(_ context.Context, warTag string) (*api.War, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leagueWarCalls = append(f.leagueWarCalls, warTag)
	w, ok := f.leagueWars[warTag]
	if !ok {
		return nil, notFound("league war")
	}
	return w, nil
}

func (f *fakeFetcher) Clan(_ context.Context, clanTag string) (*api.Clan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clans[clanTag]
	if !ok {
		return nil, notFound("clan")
	}
	return c, nil
}

func (f *fakeFetcher) CapitalRaidSeasons(_ context.Context, clanTag string, _ int) (*api.CapitalRaidSeasons, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.seasonErrs[clanTag]; err != nil {
		return nil, err
	}
	s, ok := f.seasons[clanTag]
	if !ok {
		return &api.CapitalRaidSeasons{}, nil
	}
	return s, nil
}

func (f *fakeFetcher) takeLeagueWarCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := f.leagueWarCalls
	f.leagueWarCalls = nil
	return calls
}

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []notify.Notification
	fails bool
}

func (n *recordingNotifier) Notify(_ context.Context, notification notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
	if n.fails {
		return fmt.Errorf("webhook down")
	}
	return nil
}

func (n *recordingNotifier) types() []domain.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.EventType, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Event.Type)
	}
	return out
}

type testEnv struct {
	t        *testing.T
	ctx      context.Context
	cfg      *config.Config
	fetcher  *fakeFetcher
	repo     *repository.TrackingRepository
	clans    *repository.ClanRepository
	records  *Records
	notifier *recordingNotifier
	ledger   *ledger.Ledger

	war     *Reconciler[domain.WarSnapshot]
	league  *Reconciler[domain.LeagueSnapshot]
	capital *Reconciler[domain.CapitalSnapshot]

	mu  sync.Mutex
	now time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		DBPath:            filepath.Join(t.TempDir(), "tracking.db"),
		PollWorkers:       4,
		FetchTimeout:      2 * time.Second,
		RaidLootMilestone: 1000,
		DeliveryCacheSize: 1000,
	}
	sqlDB, err := database.New(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	queries := db.New(sqlDB)
	env := &testEnv{
		t:        t,
		ctx:      context.Background(),
		cfg:      cfg,
		fetcher:  newFakeFetcher(),
		repo:     repository.NewTrackingRepository(sqlDB, queries, zerolog.Nop()),
		clans:    repository.NewClanRepository(sqlDB, queries, zerolog.Nop()),
		notifier: &recordingNotifier{},
		now:      time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC),
	}
	env.records = NewRecords(env.repo)
	env.ledger = ledger.NewLedger(env.records, zerolog.Nop())

	deliveries, err := NewDeliveries(cfg, env.notifier, zerolog.Nop())
	require.NoError(t, err)

	capital := NewCapitalStrategy(env.fetcher, cfg.RaidLootMilestone)
	capital.now = env.clock

	env.war = NewReconciler[domain.WarSnapshot](NewWarStrategy(env.fetcher), env.records, env.clans, deliveries, cfg, zerolog.Nop())
	env.league = NewReconciler[domain.LeagueSnapshot](NewLeagueStrategy(env.fetcher), env.records, env.clans, deliveries, cfg, zerolog.Nop())
	env.capital = NewReconciler[domain.CapitalSnapshot](capital, env.records, env.clans, deliveries, cfg, zerolog.Nop())
	env.war.now = env.clock
	env.league.now = env.clock
	env.capital.now = env.clock
	return env
}

func (e *testEnv) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *testEnv) setNow(t time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = t
}

func (e *testEnv) clan(tag string) domain.TrackedClan {
	e.t.Helper()
	clan := &domain.TrackedClan{
		Tag:          tag,
		GuildID:      "guild-1",
		Name:         "Clan " + tag,
		TrackWar:     true,
		TrackCWL:     true,
		TrackCapital: true,
	}
	require.NoError(e.t, e.clans.Upsert(e.ctx, clan))
	return *clan
}

func (e *testEnv) active(kind domain.Kind) *domain.TrackingRecord {
	e.t.Helper()
	rec, err := e.repo.GetActive(e.ctx, ourTag, kind)
	if err != nil {
		require.ErrorIs(e.t, err, domain.ErrRecordNotFound)
		return nil
	}
	return rec
}

func eventTypes(events []domain.Event) []domain.EventType {
	out := make([]domain.EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func attack(defender string, stars int, destruction float64, order int) api.WarAttack {
	return api.WarAttack{DefenderTag: defender, Stars: stars, DestructionPercentage: destruction, Order: order}
}

// apiWar builds a five-a-side war. attacks maps our member tag to its
// attacks on opponent tags #O1..#O5.
func apiWar(state, opponentTag string, prep time.Time, attacks map[string][]api.WarAttack) *api.War {
	ours := api.WarClan{Tag: ourTag, Name: "Ours"}
	theirs := api.WarClan{Tag: opponentTag, Name: "Theirs " + opponentTag}
	for i := 1; i <= 5; i++ {
		tag := fmt.Sprintf("#P%d", i)
		m := api.WarMember{Tag: tag, Name: fmt.Sprintf("player%d", i), TownhallLevel: 14, MapPosition: i}
		for _, a := range attacks[tag] {
			a.AttackerTag = tag
			m.Attacks = append(m.Attacks, a)
			ours.Stars += a.Stars
			ours.DestructionPercentage += a.DestructionPercentage / 5
		}
		ours.Members = append(ours.Members, m)
		theirs.Members = append(theirs.Members, api.WarMember{
			Tag: fmt.Sprintf("#O%d", i), Name: fmt.Sprintf("enemy%d", i), TownhallLevel: 14, MapPosition: i,
		})
	}
	return &api.War{
		State:                state,
		TeamSize:             5,
		AttacksPerMember:     2,
		PreparationStartTime: api.Time{Time: prep},
		StartTime:            api.Time{Time: prep.Add(23 * time.Hour)},
		EndTime:              api.Time{Time: prep.Add(47 * time.Hour)},
		Clan:                 ours,
		Opponent:             theirs,
	}
}
