package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"clan-tracker/internal/config"
	"clan-tracker/internal/domain"
	"clan-tracker/internal/tracking"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type ClanStore interface {
	Get(ctx context.Context, clanTag string) (*domain.TrackedClan, error)
	Upsert(ctx context.Context, clan *domain.TrackedClan) error
}

type ActiveLoader interface {
	Warm(ctx context.Context) ([]*domain.TrackingRecord, error)
}

// Scheduler runs one polling loop per tracking kind, after a catch-up pass
// over every record left active by the previous process.
type Scheduler struct {
	trackers  []tracking.Tracker
	records   ActiveLoader
	clans     ClanStore
	cfg       *config.Config
	logger    zerolog.Logger
	intervals map[domain.Kind]time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(trackers []tracking.Tracker, records ActiveLoader, clans ClanStore, cfg *config.Config, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		trackers: trackers,
		records:  records,
		clans:    clans,
		cfg:      cfg,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		intervals: map[domain.Kind]time.Duration{
			domain.KindWar:     cfg.WarPollInterval,
			domain.KindCWL:     cfg.CWLPollInterval,
			domain.KindCapital: cfg.CapitalPollInterval,
		},
	}
}

// Start seeds the clan registry and launches the catch-up pass and the
// polling loops in the background. It returns once seeding is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("scheduler already started")
	}

	if err := s.Seed(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		if err := s.CatchUp(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("catch-up pass failed")
		}

		var wg sync.WaitGroup
		for _, t := range s.trackers {
			interval := s.intervals[t.Kind()]
			if interval <= 0 {
				s.logger.Warn().Str("kind", string(t.Kind())).Msg("no poll interval, kind disabled")
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.loop(runCtx, t, interval)
			}()
		}
		wg.Wait()
	}()

	s.logger.Info().Int("trackers", len(s.trackers)).Msg("scheduler started")
	return nil
}

// Stop cancels the loops and waits for in-flight passes to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		s.logger.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for scheduler: %w", ctx.Err())
	}
}

// Seed registers TRACKED_CLANS entries that are not in the registry yet.
// Existing registrations are left alone.
func (s *Scheduler) Seed(ctx context.Context) error {
	seeds, err := s.cfg.SeedClans()
	if err != nil {
		return err
	}

	for _, seed := range seeds {
		tag := domain.NormalizeTag(seed.Tag)
		_, err := s.clans.Get(ctx, tag)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrClanNotFound) {
			return fmt.Errorf("lookup seeded clan %s: %w", tag, err)
		}

		clan := &domain.TrackedClan{
			Tag:          tag,
			GuildID:      seed.GuildID,
			TrackWar:     true,
			TrackCWL:     true,
			TrackCapital: true,
		}
		if err := s.clans.Upsert(ctx, clan); err != nil {
			return fmt.Errorf("seed clan %s: %w", tag, err)
		}
		s.logger.Info().Str("clan_tag", tag).Str("guild_id", seed.GuildID).Msg("seeded tracked clan")
	}
	return nil
}

// CatchUp re-polls every active record so that episodes which moved on
// while the process was down are repaired, including ones that ended.
func (s *Scheduler) CatchUp(ctx context.Context) error {
	records, err := s.records.Warm(ctx)
	if err != nil {
		return fmt.Errorf("load active records: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	s.logger.Info().Int("records", len(records)).Msg("catching up active records")

	workers := s.cfg.PollWorkers
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, rec := range records {
		tracker := tracking.TrackerFor(s.trackers, rec.Kind)
		if tracker == nil {
			s.logger.Warn().Str("kind", string(rec.Kind)).Str("record_id", rec.ID).Msg("no tracker for record kind")
			continue
		}
		g.Go(func() error {
			clan := s.clanFor(gctx, rec)
			events, err := tracker.CheckOneClan(gctx, clan)
			if err != nil {
				s.logger.Warn().Err(err).Str("clan_tag", rec.ClanTag).Str("kind", string(rec.Kind)).Msg("catch-up pass failed")
				return nil
			}
			if len(events) > 0 {
				s.logger.Info().Str("clan_tag", rec.ClanTag).Str("kind", string(rec.Kind)).Int("events", len(events)).Msg("caught up")
			}
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

// clanFor returns the registered clan, or one rebuilt from the record when
// the clan has been removed from the registry since the episode started.
func (s *Scheduler) clanFor(ctx context.Context, rec *domain.TrackingRecord) domain.TrackedClan {
	clan, err := s.clans.Get(ctx, rec.ClanTag)
	if err == nil {
		return *clan
	}
	if !errors.Is(err, domain.ErrClanNotFound) {
		s.logger.Warn().Err(err).Str("clan_tag", rec.ClanTag).Msg("clan lookup failed")
	}
	return domain.TrackedClan{
		Tag:     rec.ClanTag,
		GuildID: rec.GuildID,
		Name:    rec.ClanName,
	}
}

func (s *Scheduler) loop(ctx context.Context, t tracking.Tracker, interval time.Duration) {
	log := s.logger.With().Str("kind", string(t.Kind())).Dur("interval", interval).Logger()
	log.Debug().Msg("poll loop started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("poll loop stopped")
			return
		case <-ticker.C:
			if err := t.CheckAllClans(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("poll pass failed")
			}
		}
	}
}
