// Package domain defines the shared schema, interfaces and configuration for
// Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository persists scored traffic and fitted normalizers. Messages and
// scores are partitioned by tenant; normalizer artifacts are global and
// addressed by version.
type Repository interface {
	SaveMessage(ctx context.Context, tenantID string, msg *StoredMessage) error
	GetMessage(ctx context.Context, tenantID string, msgID string) (*StoredMessage, error)

	SaveScore(ctx context.Context, tenantID string, score *Score) error
	GetScore(ctx context.Context, tenantID string, scoreID string) (*Score, error)
	ListScoresByMessage(ctx context.Context, tenantID string, msgID string) ([]*Score, error)

	SaveNormalizer(ctx context.Context, params *NormalizationParams) error
	GetNormalizer(ctx context.Context, version string) (*NormalizationParams, error)
	LatestNormalizer(ctx context.Context) (*NormalizationParams, error)

	Ping(ctx context.Context) error

	Close() error
}

// RepositoryConfig selects and tunes the SQL backend.
type RepositoryConfig struct {
	Driver string // "sqlite" or "postgres"

	SQLitePath string // ":memory:" for a private in-memory database

	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Pool limits; zero keeps the database/sql default.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
