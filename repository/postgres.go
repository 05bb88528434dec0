package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/plm/payment-orchestrator/domain"
	"github.com/plm/payment-orchestrator/errs"
	"github.com/plm/payment-orchestrator/money"
)

// Config holds the Postgres connection settings.
type Config struct {
	Host              string
	Port              int
	User              string
	Password          string
	Database          string
	SSLMode           string
	MaxOpenConns      int
	MaxIdleConns      int
	SynchronousCommit bool
}

// DefaultConfig returns local-development defaults.
func DefaultConfig() Config {
	return Config{
		Host:              "localhost",
		Port:              5432,
		User:              "postgres",
		Password:          "postgres",
		Database:          "payment_orchestrator",
		SSLMode:           "disable",
		MaxOpenConns:      100,
		MaxIdleConns:      10,
		SynchronousCommit: true,
	}
}

// PostgresRepository is a Repository backed by Postgres: a pooled
// *sql.DB with conservative ACID tuning and an optimistic-lock
// `version` column.
type PostgresRepository struct {
	db *sql.DB
}

// Open connects to Postgres per cfg, verifies connectivity, and tunes
// the pool.
func Open(ctx context.Context, cfg Config) (*PostgresRepository, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "open postgres connection")
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	if err := db.PingContext(ctx); err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "ping postgres")
	}

	syncQuery := "SET synchronous_commit = off"
	if cfg.SynchronousCommit {
		syncQuery = "SET synchronous_commit = on"
	}
	if _, err := db.ExecContext(ctx, syncQuery); err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "set synchronous_commit")
	}

	return &PostgresRepository{db: db}, nil
}

// Close releases the underlying connection pool.
func (r *PostgresRepository) Close() error { return r.db.Close() }

type row struct {
	id                   string
	idempotencyKey       string
	state                string
	amountMinor          int64
	currency             string
	paymentMethod        []byte
	customer             []byte
	metadata             []byte
	gatewayType          sql.NullString
	gatewayTransactionID sql.NullString
	createdAt            sql.NullTime
	updatedAt            sql.NullTime
	failureReason        sql.NullString
	retryCount           int
	version              int64
}

func toPayment(r row) (domain.Payment, error) {
	amount := money.FromMinor(r.amountMinor, money.Currency(r.currency))
	var method domain.PaymentMethod
	if err := json.Unmarshal(r.paymentMethod, &method); err != nil {
		return domain.Payment{}, errs.Wrap(errs.KindInternal, err, "decode payment method")
	}
	var customer domain.Customer
	if err := json.Unmarshal(r.customer, &customer); err != nil {
		return domain.Payment{}, errs.Wrap(errs.KindInternal, err, "decode customer")
	}
	var metadata map[string]string
	if len(r.metadata) > 0 {
		if err := json.Unmarshal(r.metadata, &metadata); err != nil {
			return domain.Payment{}, errs.Wrap(errs.KindInternal, err, "decode metadata")
		}
	}
	return domain.Payment{
		ID:                   r.id,
		IdempotencyKey:       r.idempotencyKey,
		State:                domain.State(r.state),
		Amount:               amount,
		PaymentMethod:        method,
		Customer:             customer,
		Metadata:             metadata,
		GatewayType:          r.gatewayType.String,
		GatewayTransactionID: r.gatewayTransactionID.String,
		CreatedAt:            r.createdAt.Time,
		UpdatedAt:            r.updatedAt.Time,
		FailureReason:        r.failureReason.String,
		RetryCount:           r.retryCount,
		Version:              r.version,
	}, nil
}

const selectColumns = `id, idempotency_key, state, amount_minor, currency, payment_method,
	customer, metadata, gateway_type, gateway_transaction_id, created_at, updated_at,
	failure_reason, retry_count, version`

func (r *PostgresRepository) scanRow(scanner interface {
	Scan(dest ...any) error
}) (domain.Payment, error) {
	var rr row
	err := scanner.Scan(
		&rr.id, &rr.idempotencyKey, &rr.state, &rr.amountMinor, &rr.currency, &rr.paymentMethod,
		&rr.customer, &rr.metadata, &rr.gatewayType, &rr.gatewayTransactionID, &rr.createdAt, &rr.updatedAt,
		&rr.failureReason, &rr.retryCount, &rr.version,
	)
	if err != nil {
		return domain.Payment{}, err
	}
	return toPayment(rr)
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (domain.Payment, error) {
	query := `SELECT ` + selectColumns + ` FROM payments WHERE id = $1`
	p, err := r.scanRow(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return domain.Payment{}, errs.New(errs.KindNotFound, "payment not found")
	}
	if err != nil {
		return domain.Payment{}, errs.Wrap(errs.KindInternal, err, "query payment")
	}
	return p, nil
}

func (r *PostgresRepository) Create(ctx context.Context, p domain.Payment) error {
	methodJSON, err := json.Marshal(p.PaymentMethod)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "marshal payment method")
	}
	customerJSON, err := json.Marshal(p.Customer)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "marshal customer")
	}
	metadataJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "marshal metadata")
	}

	query := `
		INSERT INTO payments (id, idempotency_key, state, amount_minor, currency, payment_method,
			customer, metadata, gateway_type, gateway_transaction_id, created_at, updated_at,
			failure_reason, retry_count, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = r.db.ExecContext(ctx, query,
		p.ID, p.IdempotencyKey, string(p.State), p.Amount.Minor(), string(p.Amount.Currency()), methodJSON,
		customerJSON, metadataJSON, nullable(p.GatewayType), nullable(p.GatewayTransactionID), p.CreatedAt, p.UpdatedAt,
		nullable(p.FailureReason), p.RetryCount, p.Version,
	)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "insert payment")
	}
	return nil
}

// Update performs the optimistic CAS: the WHERE clause pins both id
// and the expected predecessor version, so a concurrent winner's
// update makes this one affect zero rows instead of silently
// clobbering it.
func (r *PostgresRepository) Update(ctx context.Context, p domain.Payment) error {
	methodJSON, err := json.Marshal(p.PaymentMethod)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "marshal payment method")
	}
	metadataJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "marshal metadata")
	}

	query := `
		UPDATE payments
		SET state = $1, amount_minor = $2, currency = $3, payment_method = $4, metadata = $5,
			gateway_type = $6, gateway_transaction_id = $7, updated_at = $8, failure_reason = $9,
			retry_count = $10, version = $11
		WHERE id = $12 AND version = $13
	`
	res, err := r.db.ExecContext(ctx, query,
		string(p.State), p.Amount.Minor(), string(p.Amount.Currency()), methodJSON, metadataJSON,
		nullable(p.GatewayType), nullable(p.GatewayTransactionID), p.UpdatedAt, nullable(p.FailureReason),
		p.RetryCount, p.Version, p.ID, p.Version-1,
	)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "update payment")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "check rows affected")
	}
	if affected == 0 {
		return errs.New(errs.KindOptimisticConflict, "stored version does not match expected predecessor")
	}
	return nil
}

// FindAll scans every row in the payments table, the Postgres-backed
// counterpart of InMemoryRepository.FindAll, used by crash recovery to
// enumerate aggregates on boot.
func (r *PostgresRepository) FindAll(ctx context.Context) ([]domain.Payment, error) {
	query := `SELECT ` + selectColumns + ` FROM payments`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "query all payments")
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		p, err := r.scanRow(rows)
		if err != nil {
			return nil, errs.Wrap(errs.KindInternal, err, "scan payment row")
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "iterate payment rows")
	}
	return out, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
