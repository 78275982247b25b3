// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// HTTP server constants
const (
	// ReadTimeout bounds reading a request including its upload body
	ReadTimeout = 30 * time.Second

	// WriteTimeout bounds a single ingest or enrollment response
	WriteTimeout = 2 * time.Minute

	// IdleTimeout closes idle keep-alive connections
	IdleTimeout = 60 * time.Second

	// RequestTimeout is the chi timeout applied to every handler
	RequestTimeout = 90 * time.Second

	// ShutdownTimeout is how long serve waits for in-flight requests on exit
	ShutdownTimeout = 15 * time.Second
)

// File upload constants
const (
	// MaxUploadSize is the default maximum request body size in bytes (16MB)
	MaxUploadSize = 16 << 20

	// MaxImagePixels caps the declared width*height of a frame before it is decoded (40MP)
	MaxImagePixels = 40_000_000

	// MaxEnrollImages is the maximum number of face_images accepted per enrollment request
	MaxEnrollImages = 20
)

// Processing constants
const (
	// DefaultConcurrency is the default number of parallel workers for batch enrollment
	DefaultConcurrency = 4

	// HealthCheckTimeout bounds the store ping behind the health endpoint
	HealthCheckTimeout = 2 * time.Second
)
