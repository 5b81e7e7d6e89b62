package service

import (
	"context"
	"errors"
	"fmt"

	"clan-tracker/internal/api"
	"clan-tracker/internal/constants"
	"clan-tracker/internal/domain"
	"clan-tracker/internal/repository"
	"clan-tracker/internal/tracking"

	"github.com/rs/zerolog"
)

// ErrUnknownKind is returned for a tracking kind with no tracker.
var ErrUnknownKind = errors.New("unknown tracking kind")

type ClanAPI interface {
	Clan(ctx context.Context, clanTag string) (*api.Clan, error)
}

type ClanService struct {
	coc      ClanAPI
	repo     *repository.ClanRepository
	tracking *repository.TrackingRepository
	records  *tracking.Records
	trackers []tracking.Tracker
	logger   zerolog.Logger
}

func NewClanService(
	coc ClanAPI,
	repo *repository.ClanRepository,
	trackingRepo *repository.TrackingRepository,
	records *tracking.Records,
	trackers []tracking.Tracker,
	logger zerolog.Logger,
) *ClanService {
	return &ClanService{
		coc:      coc,
		repo:     repo,
		tracking: trackingRepo,
		records:  records,
		trackers: trackers,
		logger:   logger.With().Str("component", "clan_service").Logger(),
	}
}

// Register validates the clan against the game API and stores it. A clan
// that is already registered keeps its creation time.
func (s *ClanService) Register(ctx context.Context, clan domain.TrackedClan) (*domain.TrackedClan, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	clan.Tag = domain.NormalizeTag(clan.Tag)
	if clan.Tag == "" {
		return nil, fmt.Errorf("empty clan tag: %w", domain.ErrClanNotFound)
	}

	s.logger.Info().Str("clan_tag", clan.Tag).Str("guild_id", clan.GuildID).Msg("registering clan")

	apiCtx, apiCancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	defer apiCancel()

	remote, err := s.coc.Clan(apiCtx, clan.Tag)
	switch {
	case errors.Is(err, api.ErrNotFound):
		return nil, fmt.Errorf("%s: %w", clan.Tag, domain.ErrClanNotFound)
	case err != nil:
		s.logger.Error().Err(err).Str("clan_tag", clan.Tag).Msg("failed to fetch clan")
		return nil, domain.Transient("clan", err)
	}
	clan.Name = remote.Name

	existing, err := s.repo.Get(ctx, clan.Tag)
	switch {
	case err == nil:
		clan.CreatedAt = existing.CreatedAt
	case !errors.Is(err, domain.ErrClanNotFound):
		return nil, err
	}

	if err := s.repo.Upsert(ctx, &clan); err != nil {
		s.logger.Error().Err(err).Str("clan_tag", clan.Tag).Msg("failed to upsert clan")
		return nil, fmt.Errorf("failed to upsert clan: %w", err)
	}

	s.logger.Info().Str("clan_tag", clan.Tag).Str("name", clan.Name).Msg("clan registered")
	return &clan, nil
}

func (s *ClanService) Get(ctx context.Context, clanTag string) (*domain.TrackedClan, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()
	return s.repo.Get(ctx, domain.NormalizeTag(clanTag))
}

func (s *ClanService) List(ctx context.Context) ([]domain.TrackedClan, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()
	return s.repo.List(ctx)
}

// Remove unregisters the clan. Its active records stay in place; the next
// catch-up pass still closes them out.
func (s *ClanService) Remove(ctx context.Context, clanTag string) error {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	tag := domain.NormalizeTag(clanTag)
	if err := s.repo.Delete(ctx, tag); err != nil {
		return err
	}
	s.logger.Info().Str("clan_tag", tag).Msg("clan removed")
	return nil
}

// ActiveRecord returns the current episode's record or
// domain.ErrRecordNotFound.
func (s *ClanService) ActiveRecord(ctx context.Context, clanTag string, kind domain.Kind) (*domain.TrackingRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()
	return s.records.Active(ctx, domain.NormalizeTag(clanTag), kind)
}

// Episode returns one episode's record, active or not.
func (s *ClanService) Episode(ctx context.Context, clanTag string, kind domain.Kind, externalID string) (*domain.TrackingRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()
	return s.tracking.GetByEpisode(ctx, domain.NormalizeTag(clanTag), kind, externalID)
}

// History lists past and current episodes, newest first.
func (s *ClanService) History(ctx context.Context, clanTag string, kind domain.Kind, limit int) ([]*domain.TrackingRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()
	return s.tracking.History(ctx, domain.NormalizeTag(clanTag), kind, limit)
}

// Refresh runs one reconciliation pass for a registered clan out of band.
func (s *ClanService) Refresh(ctx context.Context, clanTag string, kind domain.Kind) ([]domain.Event, error) {
	tracker := tracking.TrackerFor(s.trackers, kind)
	if tracker == nil {
		return nil, fmt.Errorf("%s: %w", kind, ErrUnknownKind)
	}

	clan, err := s.Get(ctx, clanTag)
	if err != nil {
		return nil, err
	}

	s.logger.Debug().Str("clan_tag", clan.Tag).Str("kind", string(kind)).Msg("manual refresh requested")
	return tracker.CheckOneClan(ctx, *clan)
}
