// Package repository persists messages, scores and normalizer artifacts
// through database/sql on SQLite or PostgreSQL.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

var _ domain.Repository = (*SQLRepository)(nil)

// New opens the configured database and applies the schema.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		var dsn string
		if dsn, err = sqliteDSN(cfg.SQLitePath); err == nil {
			db, err = connect("sqlite", dsn, 5*time.Second)
		}
		// Each connection to :memory: is a separate database.
		if err == nil && cfg.SQLitePath == memoryPath {
			db.SetMaxOpenConns(1)
		}
	case "postgres":
		db, err = connect("postgres", postgresDSN(cfg), 10*time.Second)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 && cfg.SQLitePath != memoryPath {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// connect opens a pool and checks it answers within timeout.
func connect(driverName, dsn string, timeout time.Duration) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driverName, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driverName, err)
	}
	return db, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveMessage stores a received payment message with tenant isolation.
func (r *SQLRepository) SaveMessage(ctx context.Context, tenantID string, msg *domain.StoredMessage) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}
	if msg == nil {
		return fmt.Errorf("%w: message is required", domain.ErrInvalidInput)
	}

	body, err := json.Marshal(msg.Message)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	m := msg.Message
	query := `
		INSERT INTO payment_messages (
			id, tenant_id, encoding, message_ref, debtor_id, debtor_account_id,
			creditor_id, creditor_account_id, amount, currency, regulatory_code,
			received_at, message, raw
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		msg.ID, tenantID, string(msg.Encoding), m.MessageID,
		m.Debtor.ID, m.DebtorAccountID,
		m.Creditor.ID, m.CreditorAccountID,
		m.InstructedAmount, m.Currency, m.RegulatoryCode,
		msg.ReceivedAt, string(body), string(msg.Raw),
	)
	return err
}

// GetMessage retrieves a payment message by ID with tenant isolation.
func (r *SQLRepository) GetMessage(ctx context.Context, tenantID string, msgID string) (*domain.StoredMessage, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, encoding, received_at, message, raw
		FROM payment_messages
		WHERE tenant_id = ? AND id = ?
	`

	var msg domain.StoredMessage
	var encoding, body string
	var raw sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, msgID).Scan(
		&msg.ID, &msg.TenantID, &encoding, &msg.ReceivedAt, &body, &raw,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	msg.Encoding = domain.Encoding(encoding)
	msg.Raw = []byte(raw.String)
	if err := json.Unmarshal([]byte(body), &msg.Message); err != nil {
		return nil, fmt.Errorf("failed to decode stored message %s: %w", msgID, err)
	}

	return &msg, nil
}

// SaveScore stores a scoring result with tenant isolation.
func (r *SQLRepository) SaveScore(ctx context.Context, tenantID string, score *domain.Score) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	features, _ := json.Marshal(score.Features)
	scaled, _ := json.Marshal(score.Scaled)
	metadata, _ := json.Marshal(score.Metadata)

	fraud := 0
	if score.Decision.FraudDetected {
		fraud = 1
	}

	query := `
		INSERT INTO risk_scores (
			id, tenant_id, message_id, probability, fraud_detected, risk_score,
			verdict, normalizer_version, features, scaled, timestamp, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		score.ID, tenantID, score.MessageID, score.Probability, fraud,
		score.Decision.RiskScore, score.Decision.Message, score.NormalizerVersion,
		string(features), string(scaled), score.Timestamp, string(metadata),
	)
	return err
}

const scoreColumns = `
	id, tenant_id, message_id, probability, fraud_detected, risk_score,
	verdict, normalizer_version, features, scaled, timestamp, metadata
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScore(row rowScanner) (*domain.Score, error) {
	var s domain.Score
	var fraud int
	var features, scaled, metadata string

	if err := row.Scan(
		&s.ID, &s.TenantID, &s.MessageID, &s.Probability, &fraud,
		&s.Decision.RiskScore, &s.Decision.Message, &s.NormalizerVersion,
		&features, &scaled, &s.Timestamp, &metadata,
	); err != nil {
		return nil, err
	}

	s.Decision.FraudDetected = fraud == 1
	json.Unmarshal([]byte(features), &s.Features)
	json.Unmarshal([]byte(scaled), &s.Scaled)
	json.Unmarshal([]byte(metadata), &s.Metadata)

	return &s, nil
}

// GetScore retrieves a scoring result by ID with tenant isolation.
func (r *SQLRepository) GetScore(ctx context.Context, tenantID string, scoreID string) (*domain.Score, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `SELECT ` + scoreColumns + ` FROM risk_scores WHERE tenant_id = ? AND id = ?`

	score, err := scanScore(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, scoreID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return score, err
}

// ListScoresByMessage retrieves every score for a message, newest first.
func (r *SQLRepository) ListScoresByMessage(ctx context.Context, tenantID string, msgID string) ([]*domain.Score, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `SELECT ` + scoreColumns + `
		FROM risk_scores
		WHERE tenant_id = ? AND message_id = ?
		ORDER BY timestamp DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, msgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scores []*domain.Score
	for rows.Next() {
		score, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		scores = append(scores, score)
	}

	return scores, rows.Err()
}

// SaveNormalizer stores fitted normalization parameters. Versions are
// immutable; saving an existing version fails.
func (r *SQLRepository) SaveNormalizer(ctx context.Context, params *domain.NormalizationParams) error {
	if params == nil || params.Version == "" {
		return fmt.Errorf("%w: normalizer version is required", domain.ErrInvalidInput)
	}

	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode normalizer: %w", err)
	}

	query := `
		INSERT INTO normalizers (version, schema_version, params, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		params.Version, params.SchemaVersion, string(data), params.CreatedAt,
	)
	return err
}

// GetNormalizer retrieves normalization parameters by version.
func (r *SQLRepository) GetNormalizer(ctx context.Context, version string) (*domain.NormalizationParams, error) {
	query := `SELECT params FROM normalizers WHERE version = ?`
	return r.loadNormalizer(ctx, query, version)
}

// LatestNormalizer retrieves the most recently fitted parameters.
func (r *SQLRepository) LatestNormalizer(ctx context.Context) (*domain.NormalizationParams, error) {
	query := `SELECT params FROM normalizers ORDER BY created_at DESC LIMIT 1`
	return r.loadNormalizer(ctx, query)
}

func (r *SQLRepository) loadNormalizer(ctx context.Context, query string, args ...any) (*domain.NormalizationParams, error) {
	var data string
	err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var params domain.NormalizationParams
	if err := json.Unmarshal([]byte(data), &params); err != nil {
		return nil, fmt.Errorf("failed to decode normalizer: %w", err)
	}
	return &params, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}
