package journal

import (
	"context"
	"fmt"
	"time"

	"storefront-client/internal/checkout"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Attempt is one journaled payment attempt. Attempts without a resolved
// timestamp are candidates for reconciliation at startup.
type Attempt struct {
	ID                  int64      `db:"id"`
	OrderID             string     `db:"order_id"`
	Path                string     `db:"path"`
	ProcessorOrderID    string     `db:"processor_order_id"`
	Amount              float64    `db:"amount"`
	Outcome             *string    `db:"outcome"`
	ProcessorPaymentID  *string    `db:"processor_payment_id"`
	VerificationPending bool       `db:"verification_pending"`
	StartedAt           time.Time  `db:"started_at"`
	ResolvedAt          *time.Time `db:"resolved_at"`
}

const attemptsSchema = `
CREATE TABLE IF NOT EXISTS payment_attempts (
    id BIGSERIAL PRIMARY KEY,
    order_id VARCHAR(64) NOT NULL,
    path VARCHAR(16) NOT NULL,
    processor_order_id VARCHAR(64) NOT NULL,
    amount DECIMAL(12, 2) NOT NULL,
    outcome VARCHAR(16),
    processor_payment_id VARCHAR(64),
    verification_pending BOOLEAN NOT NULL DEFAULT FALSE,
    started_at TIMESTAMP NOT NULL DEFAULT NOW(),
    resolved_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_payment_attempts_order_id ON payment_attempts (order_id);
CREATE INDEX IF NOT EXISTS idx_payment_attempts_unresolved ON payment_attempts (started_at) WHERE resolved_at IS NULL;
`

// Journal records payment attempts and outcomes in Postgres so a kiosk
// restart can pick up orders whose payments were still settling.
type Journal struct {
	db *sqlx.DB
}

// New opens the journal database
func New(databaseURL string) (*Journal, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(attemptsSchema); err != nil {
		return nil, fmt.Errorf("failed to ensure journal schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the database connection
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordAttempt journals the start of a payment attempt
func (j *Journal) RecordAttempt(ctx context.Context, orderID, path, processorOrderID string, amount float64) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO payment_attempts (order_id, path, processor_order_id, amount, started_at)
		VALUES ($1, $2, $3, $4, NOW())`,
		orderID, path, processorOrderID, amount)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// RecordOutcome journals the terminal outcome of the most recent
// unresolved attempt for the order
func (j *Journal) RecordOutcome(ctx context.Context, outcome checkout.Outcome) error {
	_, err := j.db.ExecContext(ctx, `
		UPDATE payment_attempts
		SET outcome = $1,
		    processor_payment_id = NULLIF($2, ''),
		    verification_pending = $3,
		    resolved_at = NOW()
		WHERE id = (
			SELECT id FROM payment_attempts
			WHERE order_id = $4 AND resolved_at IS NULL
			ORDER BY started_at DESC
			LIMIT 1
		)`,
		outcome.Status, outcome.ProcessorPaymentID, outcome.VerificationPending, outcome.OrderID)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return nil
}

// UnresolvedAttempts returns attempts with no journaled outcome,
// oldest first
func (j *Journal) UnresolvedAttempts(ctx context.Context) ([]Attempt, error) {
	var attempts []Attempt
	err := j.db.SelectContext(ctx, &attempts,
		"SELECT * FROM payment_attempts WHERE resolved_at IS NULL ORDER BY started_at")
	return attempts, err
}

// AttemptsForOrder returns the attempt history for one order,
// newest first
func (j *Journal) AttemptsForOrder(ctx context.Context, orderID string) ([]Attempt, error) {
	var attempts []Attempt
	err := j.db.SelectContext(ctx, &attempts,
		"SELECT * FROM payment_attempts WHERE order_id = $1 ORDER BY started_at DESC", orderID)
	return attempts, err
}
