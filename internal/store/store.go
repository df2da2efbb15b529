// Package store persists musician, band and session records.
package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mossy-p/jam-signaling/internal/models"
)

var (
	ErrNotFound      = errors.New("store: record not found")
	ErrUnknownDriver = errors.New("store: unknown driver")
)

const (
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverBolt     = "bolt"
	DriverNone     = "none"
)

// Store is implemented by every backend. Put replaces the whole record.
type Store interface {
	GetMusician(ctx context.Context, id int32) (*models.Musician, error)
	PutMusician(ctx context.Context, m *models.Musician) error

	GetBand(ctx context.Context, id int32) (*models.Band, error)
	PutBand(ctx context.Context, b *models.Band) error

	GetSession(ctx context.Context, id int32) (*models.Session, error)
	PutSession(ctx context.Context, s *models.Session) error

	Close() error
}
