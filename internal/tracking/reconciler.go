package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clan-tracker/internal/config"
	"clan-tracker/internal/constants"
	"clan-tracker/internal/domain"
	"clan-tracker/internal/metrics"
	"clan-tracker/internal/notify"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Reconciler drives one tracking kind: fetch, diff against the active record,
// commit, then notify. Passes for the same clan never overlap.
type Reconciler[S any] struct {
	strategy   Strategy[S]
	records    *Records
	clans      ClanLister
	deliveries *Deliveries
	logger     zerolog.Logger

	workers      int
	fetchTimeout time.Duration
	now          func() time.Time

	inflight singleflight.Group
}

func NewReconciler[S any](
	strategy Strategy[S],
	records *Records,
	clans ClanLister,
	deliveries *Deliveries,
	cfg *config.Config,
	logger zerolog.Logger,
) *Reconciler[S] {
	workers := cfg.PollWorkers
	if workers <= 0 {
		workers = 1
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = constants.ExternalAPITimeout
	}
	return &Reconciler[S]{
		strategy:     strategy,
		records:      records,
		clans:        clans,
		deliveries:   deliveries,
		logger:       logger.With().Str("component", "reconciler").Str("kind", string(strategy.Kind())).Logger(),
		workers:      workers,
		fetchTimeout: fetchTimeout,
		now:          time.Now,
	}
}

func (r *Reconciler[S]) Kind() domain.Kind {
	return r.strategy.Kind()
}

// CheckAllClans runs one pass for every clan tracking this kind. Failures
// are contained per clan.
func (r *Reconciler[S]) CheckAllClans(ctx context.Context) error {
	clans, err := r.clans.ListForKind(ctx, r.Kind())
	if err != nil {
		return fmt.Errorf("list %s clans: %w", r.Kind(), err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, clan := range clans {
		g.Go(func() error {
			if _, err := r.CheckOneClan(gctx, clan); err != nil {
				r.logger.Debug().Err(err).Str("clan_tag", clan.Tag).Msg("clan pass skipped")
			}
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Debug().Int("clans", len(clans)).Msg("poll pass complete")
	return ctx.Err()
}

// CheckOneClan reconciles clan and returns the events it committed. A call
// that arrives while a pass for the same clan is running shares its result.
// The shared pass is bounded by its own timeout, not by whichever caller
// started it, so a cancelled caller does not fail the others.
func (r *Reconciler[S]) CheckOneClan(ctx context.Context, clan domain.TrackedClan) ([]domain.Event, error) {
	ch := r.inflight.DoChan(clan.Tag, func() (any, error) {
		return r.check(context.WithoutCancel(ctx), clan)
	})
	select {
	case res := <-ch:
		events, _ := res.Val.([]domain.Event)
		return events, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type emitted struct {
	event  domain.Event
	record *domain.TrackingRecord
}

type plan struct {
	emitted []emitted
	writes  []*domain.TrackingRecord
	result  string
}

func (r *Reconciler[S]) check(ctx context.Context, clan domain.TrackedClan) ([]domain.Event, error) {
	kind := string(r.Kind())
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.PollDuration, kind)

	ctx, cancel := context.WithTimeout(ctx, constants.ClanPassTimeout)
	defer cancel()

	log := r.logger.With().
		Str("clan_tag", clan.Tag).
		Str("pass_id", uuid.NewString()).
		Logger()

	current, err := r.active(ctx, clan.Tag)
	if err != nil {
		metrics.PollsTotal.WithLabelValues(kind, metrics.ResultError).Inc()
		log.Error().Err(err).Msg("failed to load active record")
		return nil, err
	}

	fetchCtx, fetchCancel := context.WithTimeout(ctx, r.fetchTimeout)
	snap, err := r.strategy.Fetch(fetchCtx, clan, current)
	fetchCancel()

	notFound := false
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrEpisodeNotFound):
		notFound = true
	default:
		metrics.PollsTotal.WithLabelValues(kind, metrics.ResultTransient).Inc()
		log.Warn().Err(err).Msg("snapshot fetch failed, retrying next cycle")
		if !domain.IsTransient(err) {
			err = domain.Transient("fetch", err)
		}
		return nil, err
	}

	var p plan
	for attempt := 0; ; attempt++ {
		p, err = r.plan(clan, current, snap, notFound)
		if err != nil {
			metrics.PollsTotal.WithLabelValues(kind, metrics.ResultError).Inc()
			log.Error().Err(err).Msg("failed to reconcile snapshot")
			return nil, err
		}
		if len(p.writes) == 0 {
			break
		}

		err = r.records.Commit(ctx, p.writes...)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrPersistenceConflict) {
			metrics.PollsTotal.WithLabelValues(kind, metrics.ResultError).Inc()
			log.Error().Err(err).Msg("failed to commit tracking record")
			return nil, err
		}

		metrics.PersistenceConflictsTotal.WithLabelValues(kind).Inc()
		if attempt >= constants.PersistenceRetries {
			metrics.PollsTotal.WithLabelValues(kind, metrics.ResultConflict).Inc()
			log.Warn().Err(err).Msg("tracking record kept conflicting, skipping this cycle")
			return nil, err
		}
		log.Debug().Err(err).Msg("tracking record changed underneath, recomputing")

		current, err = r.active(ctx, clan.Tag)
		if err != nil {
			metrics.PollsTotal.WithLabelValues(kind, metrics.ResultError).Inc()
			return nil, err
		}
	}

	metrics.PollsTotal.WithLabelValues(kind, p.result).Inc()

	events := make([]domain.Event, 0, len(p.emitted))
	for _, e := range p.emitted {
		events = append(events, e.event)
		metrics.EventsTotal.WithLabelValues(kind, string(e.event.Type)).Inc()
		r.deliveries.Deliver(ctx, notify.Notification{Event: e.event, Clan: clan, Record: e.record})
	}

	if len(events) > 0 {
		log.Info().Int("events", len(events)).Str("result", p.result).Msg("clan reconciled")
	}
	return events, nil
}

func (r *Reconciler[S]) active(ctx context.Context, clanTag string) (*domain.TrackingRecord, error) {
	rec, err := r.records.Active(ctx, clanTag, r.Kind())
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, nil
	}
	return rec, err
}

// plan is the pure half of a pass: it decides the events and the records to
// write without touching the store.
func (r *Reconciler[S]) plan(clan domain.TrackedClan, current *domain.TrackingRecord, snap S, notFound bool) (plan, error) {
	now := r.now().UTC()

	if notFound {
		if current == nil {
			return plan{result: metrics.ResultNotFound}, nil
		}
		ended := r.end(current, now)
		return plan{
			emitted: []emitted{{event: ended, record: current}},
			writes:  []*domain.TrackingRecord{current},
			result:  metrics.ResultNotFound,
		}, nil
	}

	id := r.strategy.EpisodeID(clan.Tag, snap)
	fp, err := r.strategy.Fingerprint(snap)
	if err != nil {
		return plan{}, err
	}

	if current != nil && current.ExternalID == id && current.Fingerprint == fp {
		return plan{result: metrics.ResultNoop}, nil
	}

	var p plan
	p.result = metrics.ResultOK

	rec := current
	if current != nil && current.ExternalID != id {
		ended := r.end(current, now)
		p.emitted = append(p.emitted, emitted{event: ended, record: current})
		p.writes = append(p.writes, current)
		rec = nil
	}

	if rec == nil {
		if r.strategy.IsEnded(snap) {
			// an episode that ended before we ever tracked it
			if len(p.writes) == 0 {
				p.result = metrics.ResultNoop
			}
			return p, nil
		}
		rec = r.strategy.Open(clan, snap, current, now)
		rec.ClanTag = clan.Tag
		rec.GuildID = clan.GuildID
		rec.Kind = r.Kind()
		rec.ExternalID = id
		rec.IsActive = true
		p.emitted = append(p.emitted, emitted{
			event:  domain.EpisodeStarted(r.Kind(), id, rec.Phase),
			record: rec,
		})
	}

	events := r.strategy.Diff(rec, snap)
	events = append(events, r.strategy.Merge(rec, snap, events, now)...)
	rec.Fingerprint = fp

	if r.strategy.IsEnded(snap) {
		events = append(events, r.end(rec, now))
	}

	for _, ev := range events {
		p.emitted = append(p.emitted, emitted{event: ev, record: rec})
	}
	p.writes = append(p.writes, rec)
	return p, nil
}

// end closes rec and returns its EpisodeEnded event.
func (r *Reconciler[S]) end(rec *domain.TrackingRecord, now time.Time) domain.Event {
	outcome := r.strategy.Outcome(rec)
	rec.Outcome = &outcome
	rec.IsActive = false
	rec.Phase = domain.PhaseEnded
	if rec.EndTime.IsZero() || rec.EndTime.After(now) {
		rec.EndTime = now
	}
	return domain.EpisodeEnded(r.Kind(), rec.ExternalID, outcome)
}
