package challengestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Store is the append-mostly ledger of issued challenges. It exists for
// operator reconciliation, not for request-time decisions: the gate never
// reads it on the hot path.
type Store interface {
	Create(ctx context.Context, req *Request) (*Challenge, error)
	Get(ctx context.Context, id string) (*Challenge, error)
	MarkOutcome(ctx context.Context, id, outcome string, txHash string) error
	List(ctx context.Context, outcome string, limit int) ([]Challenge, error)
	Close() error
}

func New(dbFile string) (Store, error) {
	if dbFile == "" {
		return nil, fmt.Errorf("must set challenge_db")
	}

	db, err := sqlx.Open("sqlite3", dbFile)
	if err != nil {
		return nil, err
	}

	s := store{
		dbFile: dbFile,
		db:     db,
	}

	if err := s.createSchema(); err != nil {
		return nil, err
	}

	return &s, nil
}

type store struct {
	dbFile string
	db     *sqlx.DB
}

func (s *store) Create(ctx context.Context, req *Request) (*Challenge, error) {
	const insert = `INSERT INTO challenge(id, client_ip, resource, amount, network, outcome, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)`

	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, insert,
		id,
		req.ClientIP,
		req.Resource,
		req.Amount,
		req.Network,
		OutcomeIssued,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert challenge: %w", err)
	}

	return s.Get(ctx, id)
}

func (s *store) Get(ctx context.Context, id string) (*Challenge, error) {
	const query = `SELECT id, client_ip, resource, amount, network, outcome, tx_hash, created_at, updated_at
		FROM challenge WHERE id=?`

	var c Challenge
	err := s.db.GetContext(ctx, &c, query, id)
	switch err {
	case nil:
		return &c, nil
	case sql.ErrNoRows:
		return nil, fmt.Errorf("challenge with id=%s not found", id)
	default:
		return nil, fmt.Errorf("failed to query challenge: %w", err)
	}
}

func (s *store) MarkOutcome(ctx context.Context, id, outcome string, txHash string) error {
	const update = `UPDATE challenge SET outcome=?, tx_hash=?, updated_at=? WHERE id=?`

	var hash *string
	if txHash != "" {
		hash = &txHash
	}

	res, err := s.db.ExecContext(ctx, update, outcome, hash, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update challenge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("challenge with id=%s not found", id)
	}
	return nil
}

// List returns the newest challenges first, optionally filtered by outcome.
func (s *store) List(ctx context.Context, outcome string, limit int) ([]Challenge, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		challenges []Challenge
		err        error
	)
	if outcome == "" {
		const query = `SELECT id, client_ip, resource, amount, network, outcome, tx_hash, created_at, updated_at
			FROM challenge ORDER BY created_at DESC LIMIT ?`
		err = s.db.SelectContext(ctx, &challenges, query, limit)
	} else {
		const query = `SELECT id, client_ip, resource, amount, network, outcome, tx_hash, created_at, updated_at
			FROM challenge WHERE outcome=? ORDER BY created_at DESC LIMIT ?`
		err = s.db.SelectContext(ctx, &challenges, query, outcome, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list challenges: %w", err)
	}
	return challenges, nil
}

func (s *store) Close() error {
	return s.db.Close()
}

func (s *store) createSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS challenge(
		id TEXT NOT NULL,
		client_ip TEXT NOT NULL,
		resource TEXT NOT NULL,
		amount TEXT NOT NULL,
		network TEXT NOT NULL,
		outcome TEXT NOT NULL DEFAULT 'issued',
		tx_hash TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_challenge_id ON challenge(id);
	CREATE INDEX IF NOT EXISTS idx_challenge_outcome ON challenge(outcome);`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	return nil
}
