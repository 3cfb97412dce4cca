package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/idchain-labs/sequencer/internal/identity"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent appends to the identity sequence. The value is arbitrary but
// must be consistent across all sequencer instances sharing a database.
const advisoryLockKey = int64(7_420_113_958)

// PostgresStore persists the identity ledger and root checkpoints to
// PostgreSQL. It implements the Store interface.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Append implements IdentityLedger. The next leaf index is derived from the
// current row count under a transaction-scoped advisory lock, so concurrent
// appends cannot race on the same index.
func (s *PostgresStore) Append(ctx context.Context, c identity.Commitment) (uint64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, storageErr("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	idx, err := s.nextLeafIndex(ctx, tx)
	if err != nil {
		return 0, err
	}
	if err := insertIdentity(ctx, tx, identity.Identity{Commitment: c, LeafIndex: idx}); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, storageErr("commit append", err)
	}
	return idx, nil
}

// GetIdentity implements IdentityLedger.
func (s *PostgresStore) GetIdentity(ctx context.Context, leafIndex uint64) (identity.Commitment, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT commitment FROM identities WHERE leaf_index = $1`, int64(leafIndex),
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return identity.Commitment{}, ErrNotFound
		}
		return identity.Commitment{}, storageErr("get identity", err)
	}
	return commitmentFromBytes(raw)
}

// Count implements IdentityLedger.
func (s *PostgresStore) Count(ctx context.Context) (uint64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM identities`).Scan(&n); err != nil {
		return 0, storageErr("count identities", err)
	}
	return uint64(n), nil
}

// Scan implements IdentityLedger.
func (s *PostgresStore) Scan(ctx context.Context, begin uint64, fn func(uint64, identity.Commitment) error) (uint64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT commitment, leaf_index FROM identities WHERE leaf_index >= $1 ORDER BY leaf_index ASC`,
		int64(begin),
	)
	if err != nil {
		return 0, storageErr("scan identities", err)
	}
	defer rows.Close()

	var visited uint64
	for rows.Next() {
		var raw []byte
		var idx int64
		if err := rows.Scan(&raw, &idx); err != nil {
			return visited, storageErr("scan identity row", err)
		}
		c, err := commitmentFromBytes(raw)
		if err != nil {
			return visited, err
		}
		if err := fn(uint64(idx), c); err != nil {
			return visited, err
		}
		visited++
	}
	if err := rows.Err(); err != nil {
		return visited, storageErr("scan identities", err)
	}
	return visited, nil
}

// Insert implements RootRegistry. The composite foreign key on
// (last_identity, last_leaf_index) enforces the referential invariant inside
// the same statement as the write.
func (s *PostgresStore) Insert(ctx context.Context, cp *identity.RootCheckpoint) error {
	return insertCheckpoint(ctx, s.pool, cp)
}

// AppendPair implements Store. The identity row and its checkpoint are
// written in one transaction guarded by the advisory lock; on any failure
// the transaction rolls back and neither row survives.
func (s *PostgresStore) AppendPair(ctx context.Context, id identity.Identity, cp *identity.RootCheckpoint) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storageErr("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	next, err := s.nextLeafIndex(ctx, tx)
	if err != nil {
		return err
	}
	if id.LeafIndex < next {
		return ErrDuplicateLeaf
	}
	if id.LeafIndex > next {
		return ErrIntegrity
	}
	if cp.LastIdentity != id.Commitment || cp.LastLeafIndex != id.LeafIndex || cp.IdentityCount != id.LeafIndex+1 {
		return ErrIntegrity
	}

	if err := insertIdentity(ctx, tx, id); err != nil {
		return err
	}
	if err := insertCheckpoint(ctx, tx, cp); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit append pair", err)
	}

	s.logger.Debug("identity appended",
		zap.Uint64("leaf_index", id.LeafIndex),
		zap.String("root", cp.Root.String()),
	)
	return nil
}

// UpdateStatus implements RootRegistry. The update is conditioned on the
// prior status in the same transaction, so two racing confirmations cannot
// both pass the legality check.
func (s *PostgresStore) UpdateStatus(ctx context.Context, root identity.Root, newStatus identity.Status, minedAt time.Time) error {
	if newStatus != identity.StatusMined {
		return ErrInvalidTransition
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storageErr("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE root_checkpoints SET status = $2, mined_at = $3 WHERE root = $1 AND status = $4`,
		root[:], string(identity.StatusMined), minedAt.UTC(), string(identity.StatusPending),
	)
	if err != nil {
		return storageErr("update status", err)
	}

	if tag.RowsAffected() == 0 {
		// Not pending: either unknown, or already mined. Re-read inside
		// the same transaction to decide between no-op and rejection.
		var status string
		var recorded *time.Time
		err := tx.QueryRow(ctx,
			`SELECT status, mined_at FROM root_checkpoints WHERE root = $1`, root[:],
		).Scan(&status, &recorded)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return storageErr("read status", err)
		}
		if identity.Status(status) != identity.StatusMined || recorded == nil || minedAt.Before(*recorded) {
			return ErrInvalidTransition
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit status update", err)
	}
	return nil
}

// GetCheckpoint implements RootRegistry.
func (s *PostgresStore) GetCheckpoint(ctx context.Context, root identity.Root) (*identity.RootCheckpoint, error) {
	return s.scanOne(ctx, `SELECT `+checkpointColumns+` FROM root_checkpoints WHERE root = $1`, root[:])
}

// LatestCheckpoint implements RootRegistry.
func (s *PostgresStore) LatestCheckpoint(ctx context.Context) (*identity.RootCheckpoint, error) {
	return s.scanOne(ctx, `SELECT `+checkpointColumns+` FROM root_checkpoints ORDER BY identity_count DESC LIMIT 1`)
}

// ListByStatus implements RootRegistry.
func (s *PostgresStore) ListByStatus(ctx context.Context, status identity.Status) ([]*identity.RootCheckpoint, error) {
	if !status.Valid() {
		return nil, ErrInvalidTransition
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+checkpointColumns+` FROM root_checkpoints WHERE status = $1 ORDER BY identity_count ASC`,
		string(status),
	)
	if err != nil {
		return nil, storageErr("list checkpoints", err)
	}
	defer rows.Close()

	var out []*identity.RootCheckpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list checkpoints", err)
	}
	return out, nil
}

// Verify implements Store. The foreign key makes a dangling checkpoint
// unrepresentable under normal operation; this check exists to detect
// out-of-band tampering and gaps in the leaf sequence.
func (s *PostgresStore) Verify(ctx context.Context) error {
	var count, expected int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(MAX(leaf_index) + 1, 0) FROM identities`,
	).Scan(&count, &expected)
	if err != nil {
		return storageErr("verify ledger", err)
	}
	if count != expected {
		return fmt.Errorf("%w: %d identities but max leaf index implies %d", ErrIntegrity, count, expected)
	}

	var dangling int64
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM root_checkpoints c
		LEFT JOIN identities i
		  ON i.commitment = c.last_identity AND i.leaf_index = c.last_leaf_index
		WHERE i.commitment IS NULL OR c.identity_count <> c.last_leaf_index + 1`,
	).Scan(&dangling)
	if err != nil {
		return storageErr("verify checkpoints", err)
	}
	if dangling > 0 {
		return fmt.Errorf("%w: %d checkpoints do not resolve to an identity", ErrIntegrity, dangling)
	}
	return nil
}

const checkpointColumns = `root, last_identity, last_leaf_index, identity_count, status, created_at, mined_at`

// querier is the subset of pgx operations shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// nextLeafIndex serialises on the advisory lock and returns the next dense
// leaf index. Must be called inside a transaction.
func (s *PostgresStore) nextLeafIndex(ctx context.Context, tx pgx.Tx) (uint64, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryLockKey); err != nil {
		return 0, storageErr("acquire advisory lock", err)
	}
	var n int64
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM identities`).Scan(&n); err != nil {
		return 0, storageErr("read identity count", err)
	}
	return uint64(n), nil
}

func insertIdentity(ctx context.Context, q querier, id identity.Identity) error {
	_, err := q.Exec(ctx,
		`INSERT INTO identities (commitment, leaf_index) VALUES ($1, $2)`,
		id.Commitment[:], int64(id.LeafIndex),
	)
	if err != nil {
		return mapPgError("insert identity", err)
	}
	return nil
}

func insertCheckpoint(ctx context.Context, q querier, cp *identity.RootCheckpoint) error {
	if !cp.Status.Valid() {
		return ErrIntegrity
	}
	_, err := q.Exec(ctx, `
		INSERT INTO root_checkpoints (root, last_identity, last_leaf_index, identity_count, status, created_at, mined_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		cp.Root[:], cp.LastIdentity[:], int64(cp.LastLeafIndex), int64(cp.IdentityCount),
		string(cp.Status), cp.CreatedAt.UTC(), cp.MinedAt,
	)
	if err != nil {
		return mapPgError("insert checkpoint", err)
	}
	return nil
}

// mapPgError translates PostgreSQL constraint violations into the error
// taxonomy; anything else is a transient StorageError.
func mapPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			switch pgErr.ConstraintName {
			case "root_checkpoints_pkey":
				return ErrDuplicateRoot
			case "identities_leaf_index_key", "identities_commitment_leaf_key":
				return ErrDuplicateLeaf
			default:
				return ErrIntegrity
			}
		case "23503", "23514": // foreign_key_violation, check_violation
			return ErrIntegrity
		}
	}
	return storageErr(op, err)
}

func (s *PostgresStore) scanOne(ctx context.Context, query string, args ...any) (*identity.RootCheckpoint, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query checkpoint", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, storageErr("query checkpoint", err)
		}
		return nil, ErrNotFound
	}
	return scanCheckpoint(rows)
}

func scanCheckpoint(rows pgx.Rows) (*identity.RootCheckpoint, error) {
	var (
		rawRoot, rawLast []byte
		lastIdx, count   int64
		status           string
		cp               identity.RootCheckpoint
	)
	if err := rows.Scan(&rawRoot, &rawLast, &lastIdx, &count, &status, &cp.CreatedAt, &cp.MinedAt); err != nil {
		return nil, storageErr("scan checkpoint", err)
	}
	root, err := rootFromBytes(rawRoot)
	if err != nil {
		return nil, err
	}
	last, err := commitmentFromBytes(rawLast)
	if err != nil {
		return nil, err
	}
	st, err := identity.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	cp.Root = root
	cp.LastIdentity = last
	cp.LastLeafIndex = uint64(lastIdx)
	cp.IdentityCount = uint64(count)
	cp.Status = st
	return &cp, nil
}

func commitmentFromBytes(b []byte) (identity.Commitment, error) {
	var c identity.Commitment
	if len(b) != identity.Size {
		return c, fmt.Errorf("%w: commitment is %d bytes", ErrIntegrity, len(b))
	}
	copy(c[:], b)
	return c, nil
}

func rootFromBytes(b []byte) (identity.Root, error) {
	var r identity.Root
	if len(b) != identity.Size {
		return r, fmt.Errorf("%w: root is %d bytes", ErrIntegrity, len(b))
	}
	copy(r[:], b)
	return r, nil
}
