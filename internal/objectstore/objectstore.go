// Package objectstore keeps generated client configs and issues presigned
// download URLs for them.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
)

var (
	ErrStorage        = errors.New("object storage error")
	ErrObjectNotFound = errors.New("object not found")
)

// Storage is the object store contract. Implementations wrap every failure
// in ErrStorage; a missing object additionally matches ErrObjectNotFound.
type Storage interface {
	PutObject(ctx context.Context, name string, content []byte) error
	GetObject(ctx context.Context, name string) ([]byte, error)
	DeleteObject(ctx context.Context, name string) error
	PresignedGetURL(ctx context.Context, name string) (string, error)
}

// Presigner is the read-only slice of Storage used when formatting views.
type Presigner interface {
	PresignedGetURL(ctx context.Context, name string) (string, error)
}

// ObjectName is the key a client config is stored under.
func ObjectName(protocol string, clientID uuid.UUID, appType string) string {
	return path.Join("configs", protocol, clientID.String(), appType)
}

const DefaultPresignTTL = 7 * 24 * time.Hour

func storageErr(op, name string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrStorage, op, name, err)
}
