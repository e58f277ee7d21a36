package pgwatch

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS watches (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL,
  class_id BIGINT NOT NULL,
  class_number TEXT NOT NULL,
  email TEXT NOT NULL,
  last_status TEXT NOT NULL DEFAULT 'Closed',
  last_checked_at TIMESTAMPTZ NULL,
  notification_sent_at TIMESTAMPTZ NULL,
  notification_count INT NOT NULL DEFAULT 0,
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		// At most one active watch per (user, class); deactivated rows are
		// history and may repeat.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_watches_active_user_class ON watches(user_id, class_id) WHERE is_active`,
		`CREATE INDEX IF NOT EXISTS idx_watches_is_active_id ON watches(is_active, id)`,
		// Bootstrap for rows created before status tracking existed: default
		// them to Closed so the first successful check can fire a transition.
		`UPDATE watches SET last_status = 'Closed' WHERE last_status IS NULL OR last_status = ''`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
