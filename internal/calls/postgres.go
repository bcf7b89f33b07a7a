package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"callbridge/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

// NOTE: This store assumes the following tables exist:
//
//	CREATE TABLE calls (
//	  id                  TEXT PRIMARY KEY,
//	  org_id              TEXT NOT NULL,
//	  status              TEXT NOT NULL,
//	  created_by_user_id  TEXT NOT NULL,
//	  accepted_by_user_id TEXT,
//	  reason              TEXT,
//	  metadata            JSONB NOT NULL DEFAULT '{}',
//	  created_at          TIMESTAMPTZ NOT NULL,
//	  updated_at          TIMESTAMPTZ NOT NULL,
//	  ring_expires_at     TIMESTAMPTZ,
//	  ended_at            TIMESTAMPTZ
//	);
//	CREATE INDEX idx_calls_org_created ON calls(org_id, created_at);
//
//	CREATE TABLE call_participants (
//	  id      TEXT PRIMARY KEY,
//	  call_id TEXT NOT NULL REFERENCES calls(id),
//	  user_id TEXT NOT NULL,
//	  role    TEXT NOT NULL,
//	  state   TEXT NOT NULL,
//	  UNIQUE (call_id, user_id)
//	);

const pgUniqueViolation = "23505"

// PostgresStore persists calls via database/sql on the pgx stdlib driver.
// The accept path is a single conditional UPDATE checked by affected-row
// count, so it is safe across multiple service instances.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

func (s *PostgresStore) Create(ctx context.Context, call Call, participants []Participant) error {
	meta, err := json.Marshal(call.Metadata)
	if err != nil {
		return fmt.Errorf("create %s: marshal metadata: %w", call.ID, err)
	}

	return utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
INSERT INTO calls (
  id, org_id, status, created_by_user_id, accepted_by_user_id, reason,
  metadata, created_at, updated_at, ring_expires_at, ended_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`
		_, err := tx.ExecContext(ctx, q,
			call.ID,
			call.OrgID,
			call.Status,
			call.CreatedByUserID,
			nullString(call.AcceptedByUserID),
			nullString(call.Reason),
			meta,
			call.CreatedAt,
			call.UpdatedAt,
			nullTime(call.RingExpiresAt),
			nullTime(call.EndedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("create %s: %w", call.ID, ErrConflict)
			}
			return err
		}

		const pq = `
INSERT INTO call_participants (id, call_id, user_id, role, state)
VALUES ($1,$2,$3,$4,$5)
`
		for _, p := range participants {
			if _, err := tx.ExecContext(ctx, pq, p.ID, p.CallID, p.UserID, p.Role, p.State); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) Get(ctx context.Context, callID string) (Call, error) {
	const q = `
SELECT id, org_id, status, created_by_user_id, accepted_by_user_id, reason,
       metadata, created_at, updated_at, ring_expires_at, ended_at
FROM calls
WHERE id = $1
`
	return scanCall(s.db.QueryRowContext(ctx, q, callID), callID)
}

func (s *PostgresStore) GetParticipants(ctx context.Context, callID string) ([]Participant, error) {
	const q = `
SELECT id, call_id, user_id, role, state
FROM call_participants
WHERE call_id = $1
ORDER BY id
`
	rows, err := s.db.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ID, &p.CallID, &p.UserID, &p.Role, &p.State); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		// Distinguish "no participants" from "no such call".
		if _, err := s.Get(ctx, callID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *PostgresStore) AcceptCAS(ctx context.Context, callID, staffID string) (bool, error) {
	const q = `
UPDATE calls
SET status = $2, accepted_by_user_id = $3, updated_at = $4
WHERE id = $1 AND status = $5
`
	res, err := s.db.ExecContext(ctx, q, callID, StatusAccepted, staffID, s.clock().UTC(), StatusRinging)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	// No row changed: either the call is gone or the race was lost.
	if _, err := s.Get(ctx, callID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, callID string, status CallStatus, patch StatusPatch) (Call, error) {
	sources := transitionSources(status)
	if len(sources) == 0 {
		return Call{}, fmt.Errorf("update %s: no transition to %s: %w", callID, status, ErrConflict)
	}
	from := make([]string, len(sources))
	for i, st := range sources {
		from[i] = string(st)
	}

	const q = `
UPDATE calls
SET status = $2,
    updated_at = $3,
    reason = COALESCE(NULLIF($4, ''), reason),
    ended_at = COALESCE($5, ended_at)
WHERE id = $1 AND status = ANY($6)
RETURNING id, org_id, status, created_by_user_id, accepted_by_user_id, reason,
          metadata, created_at, updated_at, ring_expires_at, ended_at
`
	row := s.db.QueryRowContext(ctx, q, callID, status, s.clock().UTC(), patch.Reason, nullTime(patch.EndedAt), from)
	c, err := scanCall(row, callID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Call{}, err
	}

	// Guard rejected or call missing; re-read to report which.
	cur, gerr := s.Get(ctx, callID)
	if gerr != nil {
		return Call{}, gerr
	}
	return Call{}, fmt.Errorf("update %s: %s -> %s: %w", callID, cur.Status, status, ErrConflict)
}

func (s *PostgresStore) SetParticipantState(ctx context.Context, callID, userID string, state ParticipantState) error {
	const q = `
UPDATE call_participants
SET state = $3
WHERE call_id = $1 AND user_id = $2
`
	res, err := s.db.ExecContext(ctx, q, callID, userID, state)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("participant %s/%s: %w", callID, userID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) SaveHandshake(ctx context.Context, callID, kind, sdp string) error {
	var key string
	switch kind {
	case "offer":
		key = "sdp_offer"
	case "answer":
		key = "sdp_answer"
	default:
		return fmt.Errorf("handshake %s: unknown kind %q", callID, kind)
	}

	const q = `
UPDATE calls
SET metadata = metadata || jsonb_build_object($2::text, $3::text),
    updated_at = $4
WHERE id = $1
`
	res, err := s.db.ExecContext(ctx, q, callID, key, sdp, s.clock().UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("handshake %s: %w", callID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListByOrg(ctx context.Context, orgID string, from, to time.Time) ([]Call, error) {
	const q = `
SELECT id, org_id, status, created_by_user_id, accepted_by_user_id, reason,
       metadata, created_at, updated_at, ring_expires_at, ended_at
FROM calls
WHERE org_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at
`
	rows, err := s.db.QueryContext(ctx, q, orgID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCall(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner, callID string) (Call, error) {
	var (
		c        Call
		accepted sql.NullString
		reason   sql.NullString
		meta     []byte
		ringExp  sql.NullTime
		endedAt  sql.NullTime
	)
	err := row.Scan(
		&c.ID,
		&c.OrgID,
		&c.Status,
		&c.CreatedByUserID,
		&accepted,
		&reason,
		&meta,
		&c.CreatedAt,
		&c.UpdatedAt,
		&ringExp,
		&endedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, fmt.Errorf("get %s: %w", callID, ErrNotFound)
		}
		return Call{}, err
	}
	c.AcceptedByUserID = accepted.String
	c.Reason = reason.String
	if len(meta) > 0 {
		// c.ID is populated by the scan above, so list scans report the
		// right call too.
		if err := json.Unmarshal(meta, &c.Metadata); err != nil {
			return Call{}, fmt.Errorf("get %s: metadata: %w", c.ID, err)
		}
	}
	if ringExp.Valid {
		c.RingExpiresAt = ringExp.Time
	}
	if endedAt.Valid {
		c.EndedAt = endedAt.Time
	}
	return c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
