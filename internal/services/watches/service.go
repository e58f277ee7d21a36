package watches

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"seatwatch/internal/broker/messages"
	"seatwatch/internal/cache"
	"seatwatch/internal/models"
)

type Repository interface {
	CreateWatch(ctx context.Context, in models.WatchCreateInput) (*models.Watch, error)
	DeactivateWatch(ctx context.Context, userID, classID uint64) error
	GetWatchesByIDs(ctx context.Context, ids []uint64) ([]*models.Watch, error)
	ListWatchesByUser(ctx context.Context, userID uint64) ([]*models.Watch, error)
	NotificationStats(ctx context.Context) (models.NotificationStats, error)
}

type Service struct {
	repo       Repository
	cache      cache.BytesCache
	currentTTL time.Duration
}

func New(repo Repository, c cache.BytesCache, currentTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, currentTTL: currentTTL}
}

func (s *Service) AddWatch(ctx context.Context, in models.WatchCreateInput) (*models.Watch, error) {
	if in.UserID == 0 {
		return nil, errors.New("userId is required")
	}
	if in.ClassID == 0 {
		return nil, errors.New("classId is required")
	}
	if in.ClassNumber == "" {
		return nil, errors.New("classNumber is required")
	}
	if in.Email == "" {
		return nil, errors.New("email is required")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return nil, errors.New("email is invalid")
	}

	return s.repo.CreateWatch(ctx, in)
}

func (s *Service) RemoveWatch(ctx context.Context, userID, classID uint64) error {
	if userID == 0 {
		return errors.New("userId is required")
	}
	if classID == 0 {
		return errors.New("classId is required")
	}

	// The row id is needed for cache invalidation, so look it up while the
	// watch is still active. Best-effort: a missed entry ages out via TTL.
	var removedID uint64
	if s.cache != nil {
		if ws, err := s.repo.ListWatchesByUser(ctx, userID); err == nil {
			for _, w := range ws {
				if w.ClassID == classID {
					removedID = w.ID
				}
			}
		}
	}

	if err := s.repo.DeactivateWatch(ctx, userID, classID); err != nil {
		return err
	}
	if s.cache != nil && removedID != 0 {
		_ = s.cache.Del(ctx, currentKey(removedID))
	}
	return nil
}

// ListWatches returns a user's active watches, serving current state through
// the cache where it can.
func (s *Service) ListWatches(ctx context.Context, userID uint64) ([]*models.Watch, error) {
	if userID == 0 {
		return nil, errors.New("userId is required")
	}

	ws, err := s.repo.ListWatchesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(ws))
	for _, w := range ws {
		ids = append(ids, w.ID)
	}
	return s.GetWatchesByIDs(ctx, ids)
}

// GetWatchesByIDs serves current watch state through the cache when it can.
// The cache is best-effort; any miss or decode problem falls back to the
// database.
func (s *Service) GetWatchesByIDs(ctx context.Context, ids []uint64) ([]*models.Watch, error) {
	if len(ids) == 0 {
		return []*models.Watch{}, nil
	}

	miss := make([]uint64, 0, len(ids))
	got := make(map[uint64]*models.Watch, len(ids))

	if s.cache != nil && s.currentTTL > 0 {
		for _, id := range ids {
			b, ok, err := s.cache.Get(ctx, currentKey(id))
			if err != nil || !ok {
				miss = append(miss, id)
				continue
			}
			var w models.Watch
			if json.Unmarshal(b, &w) != nil {
				miss = append(miss, id)
				continue
			}
			got[id] = &w
		}
	} else {
		miss = ids
	}

	if len(miss) > 0 {
		fromDB, err := s.repo.GetWatchesByIDs(ctx, miss)
		if err != nil {
			return nil, err
		}
		if s.cache != nil && s.currentTTL > 0 {
			for _, w := range fromDB {
				b, _ := json.Marshal(w)
				_ = s.cache.Set(ctx, currentKey(w.ID), b, s.currentTTL)
			}
		}
		for _, w := range fromDB {
			got[w.ID] = w
		}
	}

	// Keep the response in the same order as ids.
	out := make([]*models.Watch, 0, len(ids))
	for _, id := range ids {
		if w, ok := got[id]; ok {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *Service) Stats(ctx context.Context) (models.NotificationStats, error) {
	return s.repo.NotificationStats(ctx)
}

// ApplyKafkaUpdate refreshes the cached current state for a watch after the
// worker settled a check. The worker already wrote the authoritative row, so
// this side only reloads and re-caches it.
func (s *Service) ApplyKafkaUpdate(ctx context.Context, msg messages.ClassChecked) error {
	if msg.WatchID == 0 {
		return errors.New("watch_id is required")
	}
	if s.cache == nil || s.currentTTL <= 0 {
		return nil
	}

	ws, err := s.repo.GetWatchesByIDs(ctx, []uint64{msg.WatchID})
	if err != nil {
		return err
	}
	if len(ws) != 1 {
		// The watch may have been deactivated since; drop the stale entry.
		return s.cache.Del(ctx, currentKey(msg.WatchID))
	}

	b, err := json.Marshal(ws[0])
	if err != nil {
		return errors.Wrap(err, "marshal watch")
	}
	return s.cache.Set(ctx, currentKey(msg.WatchID), b, s.currentTTL)
}

func currentKey(id uint64) string {
	return fmt.Sprintf("watch:%d:current", id)
}
