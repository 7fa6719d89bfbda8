// Package embedding defines the embedding service port (interface).
package embedding

import "context"

// Embedder turns text into a fixed-length vector for similarity search.
type Embedder interface {
	// Embed returns the vector for the given text. The returned slice has
	// length Dims(). Failures carry the domain error taxonomy so callers
	// can distinguish budget exhaustion from service unavailability.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dims returns the dimensionality of vectors produced by this embedder.
	Dims() int
}
