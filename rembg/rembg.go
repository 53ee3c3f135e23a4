package rembg

import (
	"context"
	"errors"
)

// ErrEmptyResult is returned for a 2xx response without a body.
var ErrEmptyResult = errors.New("empty result from background removal service")

// Upload is the single image submitted for background removal.
type Upload struct {
	Name      string
	MediaType string
	Data      []byte
}

// Remover submits one image and returns the processed image bytes.
// Implementations make exactly one attempt.
type Remover interface {
	Remove(ctx context.Context, upload Upload) ([]byte, error)
}

// Prober reports whether the remote service is reachable and healthy.
type Prober interface {
	Health(ctx context.Context) error
}
