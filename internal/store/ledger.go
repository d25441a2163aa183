package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Harshitk-cp/bnoracle/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ledgerLockKey is the advisory lock every ledger write holds for the rest
// of its transaction. With one writer at a time, event seq order is commit
// order and evidence ids are handed out without gaps.
const ledgerLockKey int64 = 0x626e6f7261636c65

// inLedgerTx runs fn in a transaction holding the ledger lock and commits
// only if fn succeeds.
func inLedgerTx(ctx context.Context, db *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, ledgerLockKey); err != nil {
		return fmt.Errorf("acquire ledger lock: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// appendEvent seals ev onto the current chain head and inserts it. The
// caller must hold the ledger lock.
func appendEvent(ctx context.Context, tx pgx.Tx, ev *domain.Event) error {
	seq, head := int64(0), domain.GenesisHash
	err := tx.QueryRow(ctx,
		`SELECT seq, hash FROM ledger_events ORDER BY seq DESC LIMIT 1`,
	).Scan(&seq, &head)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("read chain head: %w", err)
	}

	if err := ev.Seal(seq+1, head); err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_events (seq, type, claim_id, payload, prev_hash, hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.Seq, string(ev.Type), ev.ClaimID, []byte(ev.Payload), ev.PrevHash, ev.Hash, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event %d: %w", ev.Seq, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
