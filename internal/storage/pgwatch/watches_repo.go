package pgwatch

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"seatwatch/internal/models"
)

const watchColumns = `
  id, user_id, class_id, class_number, email,
  last_status, last_checked_at, notification_sent_at, notification_count,
  is_active, created_at, updated_at`

// CheckUpdate is the per-watch outcome of one successful status check.
// Notified additionally bumps the notification counter and stamps the send
// time; the status fields are written either way.
type CheckUpdate struct {
	WatchID   uint64
	CheckedAt time.Time
	Status    string
	Notified  bool
}

// CreateWatch inserts an active watch, or returns the existing one when the
// (user, class) pair is already actively watched.
func (s *Storage) CreateWatch(ctx context.Context, in models.WatchCreateInput) (*models.Watch, error) {
	now := time.Now().UTC()

	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO watches (
  user_id, class_id, class_number, email, last_status, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$6)
ON CONFLICT (user_id, class_id) WHERE is_active
DO UPDATE SET updated_at = watches.updated_at
RETURNING id
`, in.UserID, in.ClassID, in.ClassNumber, in.Email, models.SeatStatusClosed, now).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "insert watch")
	}

	ws, err := s.GetWatchesByIDs(ctx, []uint64{id})
	if err != nil {
		return nil, err
	}
	if len(ws) != 1 {
		return nil, errors.New("watch not found after insert")
	}
	return ws[0], nil
}

// DeactivateWatch soft-deletes the active watch for (user, class). The row
// stays behind for notification history.
func (s *Storage) DeactivateWatch(ctx context.Context, userID, classID uint64) error {
	ct, err := s.db.Exec(ctx, `
UPDATE watches
SET is_active = FALSE, updated_at = now()
WHERE user_id = $1 AND class_id = $2 AND is_active
`, userID, classID)
	if err != nil {
		return errors.Wrap(err, "deactivate watch")
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *Storage) GetWatchesByIDs(ctx context.Context, ids []uint64) ([]*models.Watch, error) {
	if len(ids) == 0 {
		return []*models.Watch{}, nil
	}

	rows, err := s.db.Query(ctx, `SELECT `+watchColumns+` FROM watches WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select watches")
	}
	defer rows.Close()

	return scanWatches(rows, len(ids))
}

func (s *Storage) ListWatchesByUser(ctx context.Context, userID uint64) ([]*models.Watch, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+watchColumns+`
FROM watches
WHERE user_id = $1 AND is_active
ORDER BY id
`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "select user watches")
	}
	defer rows.Close()

	return scanWatches(rows, 0)
}

// ListActiveWatches pages through active watches in stable id order; the
// poller walks them batch by batch.
func (s *Storage) ListActiveWatches(ctx context.Context, limit, offset int) ([]*models.Watch, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT `+watchColumns+`
FROM watches
WHERE is_active
ORDER BY id
LIMIT $1 OFFSET $2
`, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select active watches")
	}
	defer rows.Close()

	return scanWatches(rows, limit)
}

// ApplyCheckResult records the outcome of one status check. Each update is an
// independent single-row write; cycles never overlap, so per-watch updates
// are totally ordered.
func (s *Storage) ApplyCheckResult(ctx context.Context, upd CheckUpdate) error {
	if upd.Notified {
		_, err := s.db.Exec(ctx, `
UPDATE watches
SET
  last_status = $2,
  last_checked_at = $3,
  notification_count = notification_count + 1,
  notification_sent_at = $3,
  updated_at = now()
WHERE id = $1
`, upd.WatchID, upd.Status, upd.CheckedAt.UTC())
		return errors.Wrap(err, "update watch (notified)")
	}

	_, err := s.db.Exec(ctx, `
UPDATE watches
SET
  last_status = $2,
  last_checked_at = $3,
  updated_at = now()
WHERE id = $1
`, upd.WatchID, upd.Status, upd.CheckedAt.UTC())
	return errors.Wrap(err, "update watch")
}

func (s *Storage) NotificationStats(ctx context.Context) (models.NotificationStats, error) {
	var st models.NotificationStats
	err := s.db.QueryRow(ctx, `
SELECT
  COUNT(*) FILTER (WHERE is_active),
  COALESCE(SUM(notification_count), 0),
  COUNT(*) FILTER (WHERE is_active AND last_status = 'Open'),
  COUNT(*) FILTER (WHERE is_active AND last_status = 'Closed')
FROM watches
`).Scan(&st.ActiveWatches, &st.NotificationsSent, &st.WatchesOpen, &st.WatchesClosed)
	if err != nil {
		return models.NotificationStats{}, errors.Wrap(err, "notification stats")
	}
	return st, nil
}

func scanWatches(rows pgx.Rows, capHint int) ([]*models.Watch, error) {
	out := make([]*models.Watch, 0, capHint)
	for rows.Next() {
		var w models.Watch
		var lastCheckedAt *time.Time
		var notificationSentAt *time.Time
		if err := rows.Scan(
			&w.ID, &w.UserID, &w.ClassID, &w.ClassNumber, &w.Email,
			&w.LastStatus, &lastCheckedAt, &notificationSentAt, &w.NotificationCount,
			&w.IsActive, &w.CreatedAt, &w.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan watch")
		}
		w.LastCheckedAt = lastCheckedAt
		w.NotificationSentAt = notificationSentAt
		out = append(out, &w)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
