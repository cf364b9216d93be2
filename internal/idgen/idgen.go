// Package idgen issues the opaque identifiers of links, users and notifications.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator generates unique identifiers.
// Implementations should be safe for concurrent use.
type Generator interface {
	Generate() (uuid.UUID, error)
}

// Func adapts a plain function to Generator.
type Func func() (uuid.UUID, error)

func (f Func) Generate() (uuid.UUID, error) { return f() }

// Version selects a UUID variant.
type Version uint8

const (
	V4 Version = 4
	V7 Version = 7
)

// ParseVersion maps a configured version number to a Version.
func ParseVersion(n int) (Version, error) {
	switch n {
	case 4:
		return V4, nil
	case 7:
		return V7, nil
	default:
		return 0, fmt.Errorf("unsupported uuid version %d (must be 4 or 7)", n)
	}
}

type generator struct {
	version Version
	retries int
	next    func() (uuid.UUID, error)
}

type Option func(*generator)

// WithRetries sets how many times a failed draw is retried after the first
// attempt. Negative values are ignored.
func WithRetries(n int) Option {
	return func(g *generator) {
		if n >= 0 {
			g.retries = n
		}
	}
}

// New returns a Generator for v. Unknown versions fall back to V4.
// V7 ids sort by creation time, which keeps store enumeration roughly
// in insertion order.
func New(v Version, opts ...Option) Generator {
	g := &generator{version: V4, retries: 1, next: uuid.NewRandom}
	if v == V7 {
		g.version = V7
		g.next = uuid.NewV7
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewV4 returns a Generator that produces UUID v4 values.
func NewV4(opts ...Option) Generator { return New(V4, opts...) }

// NewV7 returns a Generator that produces UUID v7 values.
func NewV7(opts ...Option) Generator { return New(V7, opts...) }

func (g *generator) Generate() (uuid.UUID, error) {
	var last error
	for attempt := 0; attempt <= g.retries; attempt++ {
		id, err := g.next()
		if err == nil {
			return id, nil
		}
		last = err
	}
	return uuid.Nil, fmt.Errorf("uuid v%d generation failed after %d attempts: %w", g.version, g.retries+1, last)
}
