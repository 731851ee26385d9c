package escrow

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists escrow data in PostgreSQL.
//
// Optimistic concurrency: updates match on (course_id, version) and bump
// the version; zero rows affected on an existing escrow means a
// concurrent writer won and the caller sees ErrVersionConflict.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the escrow tables.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS escrows (
			course_id       VARCHAR(64) PRIMARY KEY,
			payout_key      VARCHAR(42) NOT NULL,
			oracle_key      VARCHAR(42) NOT NULL,
			payer_key       VARCHAR(42),
			script_address  VARCHAR(42),
			net_total       NUMERIC(38,0) NOT NULL DEFAULT 0,
			paid_out        NUMERIC(38,0) NOT NULL DEFAULT 0,
			paid_count      INT NOT NULL DEFAULT 0,
			released_30     BOOLEAN NOT NULL DEFAULT FALSE,
			released_40     BOOLEAN NOT NULL DEFAULT FALSE,
			released_final  BOOLEAN NOT NULL DEFAULT FALSE,
			comments        INT NOT NULL DEFAULT 0,
			rating_sum      INT NOT NULL DEFAULT 0,
			rating_count    INT NOT NULL DEFAULT 0,
			watchers        JSONB NOT NULL DEFAULT '{}',
			all_watch_met   BOOLEAN NOT NULL DEFAULT FALSE,
			first_watch     TIMESTAMPTZ,
			dispute_by      TIMESTAMPTZ,
			status          VARCHAR(12) NOT NULL,
			dispute_reason  TEXT,
			resolution      VARCHAR(12),
			resolved_at     TIMESTAMPTZ,
			version         BIGINT NOT NULL DEFAULT 0,
			created_at      TIMESTAMPTZ NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL,
			CONSTRAINT chk_paid_out_bounds CHECK (paid_out >= 0 AND paid_out <= net_total),
			CONSTRAINT chk_milestone_order CHECK (NOT released_40 OR released_30),
			CONSTRAINT chk_final_order     CHECK (NOT released_final OR released_40)
		);

		CREATE TABLE IF NOT EXISTS payment_receipts (
			course_id       VARCHAR(64) NOT NULL REFERENCES escrows(course_id),
			idempotency_key VARCHAR(128) NOT NULL,
			amount          NUMERIC(38,0) NOT NULL,
			net_total       NUMERIC(38,0) NOT NULL,
			paid_out        NUMERIC(38,0) NOT NULL,
			paid_count      INT NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (course_id, idempotency_key)
		);

		CREATE TABLE IF NOT EXISTS ledger_submissions (
			id            VARCHAR(36) PRIMARY KEY,
			course_id     VARCHAR(64) NOT NULL REFERENCES escrows(course_id),
			kind          VARCHAR(12) NOT NULL,
			milestone     VARCHAR(12),
			amount        NUMERIC(38,0),
			tx_ref        VARCHAR(66),
			state         VARCHAR(12) NOT NULL,
			last_error    TEXT,
			attempts      INT NOT NULL DEFAULT 0,
			next_check_at TIMESTAMPTZ NOT NULL,
			reported_at   TIMESTAMPTZ,
			submitted_at  TIMESTAMPTZ NOT NULL,
			confirmed_at  TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS idx_submissions_course ON ledger_submissions(course_id);
		CREATE INDEX IF NOT EXISTS idx_submissions_pending ON ledger_submissions(state) WHERE state = 'pending';
	`)
	return err
}

const escrowColumns = `course_id, payout_key, oracle_key, payer_key, script_address,
		       net_total, paid_out, paid_count,
		       released_30, released_40, released_final,
		       comments, rating_sum, rating_count, watchers, all_watch_met,
		       first_watch, dispute_by, status, dispute_reason, resolution,
		       resolved_at, version, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, e *Escrow) error {
	watchersJSON, _ := json.Marshal(e.Watchers)
	if e.Watchers == nil {
		watchersJSON = []byte("{}")
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrows (`+escrowColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6::NUMERIC(38,0), $7::NUMERIC(38,0), $8,
			$9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25)`,
		e.CourseID, e.PayoutKey, e.OracleKey, nullString(e.PayerKey), nullString(e.ScriptAddress),
		e.NetTotal, e.PaidOut, e.PaidCount,
		e.Released30, e.Released40, e.ReleasedFinal,
		e.Comments, e.RatingSum, e.RatingCount, watchersJSON, e.AllWatchMet,
		nullTime(e.FirstWatch), nullTime(e.DisputeBy), string(e.Status),
		nullString(e.DisputeReason), nullString(e.Resolution),
		nullTime(e.ResolvedAt), e.Version, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, courseID string) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE course_id = $1`, courseID)

	e, err := scanEscrow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return e, err
}

func (p *PostgresStore) Update(ctx context.Context, e *Escrow) error {
	return p.update(ctx, p.db, e)
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (p *PostgresStore) update(ctx context.Context, db execer, e *Escrow) error {
	watchersJSON, _ := json.Marshal(e.Watchers)
	if e.Watchers == nil {
		watchersJSON = []byte("{}")
	}
	result, err := db.ExecContext(ctx, `
		UPDATE escrows SET
			payer_key = $1, script_address = $2,
			net_total = $3::NUMERIC(38,0), paid_out = $4::NUMERIC(38,0), paid_count = $5,
			released_30 = $6, released_40 = $7, released_final = $8,
			comments = $9, rating_sum = $10, rating_count = $11,
			watchers = $12, all_watch_met = $13,
			first_watch = $14, dispute_by = $15,
			status = $16, dispute_reason = $17, resolution = $18, resolved_at = $19,
			version = version + 1, updated_at = $20
		WHERE course_id = $21 AND version = $22`,
		nullString(e.PayerKey), nullString(e.ScriptAddress),
		e.NetTotal, e.PaidOut, e.PaidCount,
		e.Released30, e.Released40, e.ReleasedFinal,
		e.Comments, e.RatingSum, e.RatingCount,
		watchersJSON, e.AllWatchMet,
		nullTime(e.FirstWatch), nullTime(e.DisputeBy),
		string(e.Status), nullString(e.DisputeReason), nullString(e.Resolution), nullTime(e.ResolvedAt),
		e.UpdatedAt, e.CourseID, e.Version,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish a missing row from a lost version race
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM escrows WHERE course_id = $1)`, e.CourseID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	e.Version++
	return nil
}

// UpdateWithReceipt writes the escrow row and the payment receipt in one
// transaction so accumulation and idempotency-key persistence are atomic.
func (p *PostgresStore) UpdateWithReceipt(ctx context.Context, e *Escrow, r *PaymentReceipt) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := p.update(ctx, tx, e); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payment_receipts (course_id, idempotency_key, amount, net_total, paid_out, paid_count, created_at)
		VALUES ($1, $2, $3::NUMERIC(38,0), $4::NUMERIC(38,0), $5::NUMERIC(38,0), $6, $7)`,
		r.CourseID, r.IdempotencyKey, r.Amount, r.NetTotal, r.PaidOut, r.PaidCount, r.CreatedAt,
	)
	if err != nil {
		e.Version-- // rolled back, undo the optimistic bump
		return err
	}
	if err := tx.Commit(); err != nil {
		e.Version--
		return err
	}
	return nil
}

func (p *PostgresStore) GetReceipt(ctx context.Context, courseID, idempotencyKey string) (*PaymentReceipt, error) {
	r := &PaymentReceipt{}
	err := p.db.QueryRowContext(ctx, `
		SELECT course_id, idempotency_key, amount, net_total, paid_out, paid_count, created_at
		FROM payment_receipts
		WHERE course_id = $1 AND idempotency_key = $2`,
		courseID, idempotencyKey,
	).Scan(&r.CourseID, &r.IdempotencyKey, &r.Amount, &r.NetTotal, &r.PaidOut, &r.PaidCount, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (p *PostgresStore) CreateSubmission(ctx context.Context, sub *Submission) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO ledger_submissions (
			id, course_id, kind, milestone, amount, tx_ref, state,
			last_error, attempts, next_check_at, reported_at, submitted_at, confirmed_at
		) VALUES ($1, $2, $3, $4, $5::NUMERIC(38,0), $6, $7, $8, $9, $10, $11, $12, $13)`,
		sub.ID, sub.CourseID, sub.Kind, nullString(string(sub.Milestone)),
		nullString(sub.Amount), nullString(sub.TxRef), string(sub.State),
		nullString(sub.LastError), sub.Attempts, sub.NextCheckAt,
		nullTime(sub.ReportedAt), sub.SubmittedAt, nullTime(sub.ConfirmedAt),
	)
	return err
}

func (p *PostgresStore) UpdateSubmission(ctx context.Context, sub *Submission) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE ledger_submissions SET
			tx_ref = $1, state = $2, last_error = $3, attempts = $4,
			next_check_at = $5, reported_at = $6, confirmed_at = $7
		WHERE id = $8`,
		nullString(sub.TxRef), string(sub.State), nullString(sub.LastError),
		sub.Attempts, sub.NextCheckAt, nullTime(sub.ReportedAt), nullTime(sub.ConfirmedAt),
		sub.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

const submissionColumns = `id, course_id, kind, milestone, amount, tx_ref, state,
			   last_error, attempts, next_check_at, reported_at, submitted_at, confirmed_at`

func (p *PostgresStore) ListSubmissions(ctx context.Context, courseID string) ([]*Submission, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+submissionColumns+`
		FROM ledger_submissions
		WHERE course_id = $1
		ORDER BY submitted_at`, courseID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanSubmissions(rows)
}

func (p *PostgresStore) ListPendingSubmissions(ctx context.Context, limit int) ([]*Submission, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+submissionColumns+`
		FROM ledger_submissions
		WHERE state = 'pending'
		ORDER BY submitted_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanSubmissions(rows)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEscrow(s scanner) (*Escrow, error) {
	e := &Escrow{}
	var (
		payerKey      sql.NullString
		scriptAddress sql.NullString
		watchersJSON  []byte
		firstWatch    sql.NullTime
		disputeBy     sql.NullTime
		status        string
		disputeReason sql.NullString
		resolution    sql.NullString
		resolvedAt    sql.NullTime
	)

	err := s.Scan(
		&e.CourseID, &e.PayoutKey, &e.OracleKey, &payerKey, &scriptAddress,
		&e.NetTotal, &e.PaidOut, &e.PaidCount,
		&e.Released30, &e.Released40, &e.ReleasedFinal,
		&e.Comments, &e.RatingSum, &e.RatingCount, &watchersJSON, &e.AllWatchMet,
		&firstWatch, &disputeBy, &status, &disputeReason, &resolution,
		&resolvedAt, &e.Version, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Status = Status(status)
	e.PayerKey = payerKey.String
	e.ScriptAddress = scriptAddress.String
	e.DisputeReason = disputeReason.String
	e.Resolution = resolution.String
	if firstWatch.Valid {
		e.FirstWatch = &firstWatch.Time
	}
	if disputeBy.Valid {
		e.DisputeBy = &disputeBy.Time
	}
	if resolvedAt.Valid {
		e.ResolvedAt = &resolvedAt.Time
	}
	if len(watchersJSON) > 0 {
		_ = json.Unmarshal(watchersJSON, &e.Watchers)
	}

	return e, nil
}

func scanSubmissions(rows *sql.Rows) ([]*Submission, error) {
	var result []*Submission
	for rows.Next() {
		sub := &Submission{}
		var (
			milestone   sql.NullString
			amount      sql.NullString
			txRef       sql.NullString
			state       string
			lastError   sql.NullString
			reportedAt  sql.NullTime
			confirmedAt sql.NullTime
		)
		err := rows.Scan(
			&sub.ID, &sub.CourseID, &sub.Kind, &milestone, &amount, &txRef, &state,
			&lastError, &sub.Attempts, &sub.NextCheckAt, &reportedAt, &sub.SubmittedAt, &confirmedAt,
		)
		if err != nil {
			return nil, err
		}
		sub.Milestone = Milestone(milestone.String)
		sub.Amount = amount.String
		sub.TxRef = txRef.String
		sub.State = SubmissionState(state)
		sub.LastError = lastError.String
		if reportedAt.Valid {
			sub.ReportedAt = &reportedAt.Time
		}
		if confirmedAt.Valid {
			sub.ConfirmedAt = &confirmedAt.Time
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
