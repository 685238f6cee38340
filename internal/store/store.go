package store

import (
	"context"

	"github.com/commentboard/backend/internal/models"
)

// Store is the durable home of the board dataset. Implementations load and
// save the whole document; there are no partial updates, so a caller that
// wants read-modify-write atomicity must serialize its own cycles.
type Store interface {
	Load(ctx context.Context) (models.Dataset, error)
	Save(ctx context.Context, dataset models.Dataset) error
}
