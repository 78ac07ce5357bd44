package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/smallbiznis/creditledger/internal/apikey/domain"
	"github.com/smallbiznis/creditledger/internal/cachesync"
	"github.com/smallbiznis/creditledger/internal/clock"
	"github.com/smallbiznis/creditledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxKeyGenerationAttempts = 3

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       apikeydomain.Repository
	Cache      cachesync.Client
	Propagator *cachesync.Propagator
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       apikeydomain.Repository
	cache      cachesync.Client
	propagator *cachesync.Propagator
}

func New(p Params) apikeydomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("apikey.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		cache:      p.Cache,
		propagator: p.Propagator,
	}
}

// Create issues a new key. The cache registration is awaited but never fails
// the call; a reconcile run repairs a missed entry.
func (s *Service) Create(ctx context.Context, userID snowflake.ID, name string) (*apikeydomain.APIKey, error) {
	if userID == 0 {
		return nil, apikeydomain.ErrUserNotFound
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apikeydomain.ErrInvalidName
	}

	credits, found, err := s.repo.UserCredits(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apikeydomain.ErrUserNotFound
	}

	var key *apikeydomain.APIKey
	for attempt := 1; attempt <= maxKeyGenerationAttempts; attempt++ {
		raw, err := apikeydomain.GenerateKey()
		if err != nil {
			return nil, err
		}
		now := s.clock.Now().UTC()
		candidate := &apikeydomain.APIKey{
			ID:        s.genID.Generate(),
			UserID:    userID,
			Key:       raw,
			Name:      name,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = s.repo.Insert(ctx, s.db, candidate)
		if err == nil {
			key = candidate
			break
		}
		if !db.IsDuplicateKeyErr(err) || attempt == maxKeyGenerationAttempts {
			return nil, err
		}
		s.log.Warn("api key collision, regenerating", zap.Int("attempt", attempt))
	}

	entry := cachesync.KeyEntry{
		Key:     key.Key,
		UserID:  userID.String(),
		Credits: credits,
		Active:  true,
	}
	res := s.cache.RegisterKey(ctx, entry)
	if !res.Success {
		s.log.Warn("api key created without cache entry",
			zap.String("key_id", key.ID.String()),
			zap.String("user_id", userID.String()),
			zap.String("api_key", cachesync.MaskKey(key.Key)),
			zap.Int("status_code", res.StatusCode),
			zap.String("message", res.Message),
		)
	}

	s.log.Info("api key created",
		zap.String("key_id", key.ID.String()),
		zap.String("user_id", userID.String()),
		zap.Bool("cached", res.Success),
	)
	return key, nil
}

// Deactivate is idempotent; an already inactive key is returned unchanged.
func (s *Service) Deactivate(ctx context.Context, keyID snowflake.ID) (*apikeydomain.APIKey, error) {
	if keyID == 0 {
		return nil, apikeydomain.ErrInvalidKeyID
	}

	key, err := s.repo.FindByID(ctx, s.db, keyID)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, apikeydomain.ErrNotFound
	}

	now := s.clock.Now().UTC()
	changed, err := s.repo.Deactivate(ctx, s.db, keyID, now)
	if err != nil {
		return nil, err
	}
	key.IsActive = false
	if !changed {
		return key, nil
	}
	key.UpdatedAt = now

	s.propagator.DeleteKeys(ctx, []string{key.Key})
	s.log.Info("api key deactivated",
		zap.String("key_id", keyID.String()),
		zap.String("user_id", key.UserID.String()),
	)
	return key, nil
}

func (s *Service) DeleteUserCascade(ctx context.Context, userID snowflake.ID) (*apikeydomain.CascadeReport, error) {
	if userID == 0 {
		return nil, apikeydomain.ErrUserNotFound
	}

	var (
		report *apikeydomain.CascadeReport
		keys   []string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		owned, err := s.repo.ListByUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		for _, key := range owned {
			keys = append(keys, key.Key)
		}
		report, err = s.repo.DeleteUserData(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.propagator.DeleteKeys(ctx, keys)
	s.log.Info("user deleted with dependents",
		zap.String("user_id", userID.String()),
		zap.Int("keys_removed", report.KeysRemoved),
		zap.Int64("transactions_removed", report.TransactionsRemoved),
		zap.Int64("usage_removed", report.UsageRemoved),
	)
	return report, nil
}

func (s *Service) List(ctx context.Context, userID snowflake.ID) ([]apikeydomain.APIKey, error) {
	if userID == 0 {
		return nil, apikeydomain.ErrUserNotFound
	}
	return s.repo.ListByUser(ctx, s.db, userID)
}

func (s *Service) Get(ctx context.Context, keyID snowflake.ID) (*apikeydomain.APIKey, error) {
	if keyID == 0 {
		return nil, apikeydomain.ErrInvalidKeyID
	}
	key, err := s.repo.FindByID(ctx, s.db, keyID)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, apikeydomain.ErrNotFound
	}
	return key, nil
}

func (s *Service) FindByKey(ctx context.Context, raw string) (*apikeydomain.APIKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, apikeydomain.ErrNotFound
	}
	key, err := s.repo.FindByKey(ctx, s.db, raw)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, apikeydomain.ErrNotFound
	}
	return key, nil
}

func (s *Service) TouchLastUsed(ctx context.Context, keyID snowflake.ID) {
	if keyID == 0 {
		return
	}
	if err := s.repo.TouchLastUsed(ctx, s.db, keyID, s.clock.Now().UTC()); err != nil {
		s.log.Warn("touch api key last_used_at", zap.String("key_id", keyID.String()), zap.Error(err))
	}
}

// Resolve answers from the cache when it holds a usable entry and falls back to
// the ledger otherwise. A ledger answer for an active key repairs the cache.
func (s *Service) Resolve(ctx context.Context, raw string) (*apikeydomain.Resolution, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, apikeydomain.ErrNotFound
	}

	res := s.cache.GetKey(ctx, raw)
	if res.Success {
		var entry cachesync.KeyEntry
		if err := res.Decode(&entry); err == nil && entry.Active && entry.Credits > 0 {
			return &apikeydomain.Resolution{
				UserID:  entry.UserID,
				Active:  true,
				Credits: entry.Credits,
				Source:  apikeydomain.SourceCache,
			}, nil
		}
	}

	key, err := s.repo.FindByKey(ctx, s.db, raw)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, apikeydomain.ErrNotFound
	}
	credits, found, err := s.repo.UserCredits(ctx, s.db, key.UserID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apikeydomain.ErrUserNotFound
	}

	resolution := &apikeydomain.Resolution{
		KeyID:   key.ID,
		UserID:  key.UserID.String(),
		Active:  key.IsActive,
		Credits: credits,
		Source:  apikeydomain.SourceLedger,
	}

	if key.IsActive {
		entry := cachesync.KeyEntry{Key: key.Key, UserID: resolution.UserID, Credits: credits, Active: true}
		err := s.propagator.Go(ctx, "repair_key", func(ctx context.Context) {
			cachesync.LogResult(s.log, cachesync.OpRegisterKey, entry.Key, s.cache.RegisterKey(ctx, entry))
		})
		if err != nil && !errors.Is(err, cachesync.ErrPropagatorClosed) {
			s.log.Warn("schedule cache repair", zap.Error(err))
		}
	}
	return resolution, nil
}
