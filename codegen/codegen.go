// Package codegen produces candidate short codes.
// A code is a fixed prefix followed by a suffix over an alphabet, drawn
// either at random or from a sqids-encoded counter.
// Generators make no uniqueness promise; callers check the store.
package codegen

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/sqids/sqids-go"
)

const (
	DefaultAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	DefaultPrefix   = "https://clck.ru/"
	DefaultLength   = 6
	MaxLength       = 64
)

// Generator generates candidate short codes.
// Implementations should be safe for concurrent use.
type Generator interface {
	Generate() (string, error)
}

// Func adapts a plain function to Generator.
type Func func() (string, error)

func (f Func) Generate() (string, error) { return f() }

type settings struct {
	alphabet string
	prefix   string
	length   int
}

func newSettings(opts []Option) settings {
	s := settings{
		alphabet: DefaultAlphabet,
		prefix:   DefaultPrefix,
		length:   DefaultLength,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

type Option func(*settings)

// WithAlphabet sets the suffix alphabet. Alphabets shorter than two
// characters or containing duplicates are ignored.
func WithAlphabet(alphabet string) Option {
	return func(g *settings) {
		if ValidateAlphabet(alphabet) == nil {
			g.alphabet = alphabet
		}
	}
}

// WithPrefix sets the fixed prefix. An empty prefix is allowed.
func WithPrefix(prefix string) Option {
	return func(g *settings) {
		g.prefix = prefix
	}
}

// WithLength sets the suffix length. Values outside 1..MaxLength are ignored.
func WithLength(n int) Option {
	return func(g *settings) {
		if n > 0 && n <= MaxLength {
			g.length = n
		}
	}
}

// random implements Generator with crypto/rand draws.
// It is safe for concurrent use.
type random struct {
	settings
}

// New returns a random code generator. Without options it yields
// DefaultPrefix plus DefaultLength characters of DefaultAlphabet.
func New(opts ...Option) Generator {
	return &random{settings: newSettings(opts)}
}

// Generate returns prefix + length random characters of the alphabet.
func (g *random) Generate() (string, error) {
	n := big.NewInt(int64(len(g.alphabet)))

	b := make([]byte, len(g.prefix)+g.length)
	copy(b, g.prefix)
	for i := len(g.prefix); i < len(b); i++ {
		idx, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", err
		}
		b[i] = g.alphabet[idx.Int64()]
	}

	return string(b), nil
}

// sequential encodes a process-wide counter with sqids, so consecutive
// codes never repeat within one run. The counter starts at a random
// offset; codes issued by earlier runs may still collide and are retried
// by the caller like any other collision.
type sequential struct {
	prefix string
	sq     *sqids.Sqids
	next   atomic.Uint64
}

// NewSqids returns a counter-based generator. The length option is the
// minimum suffix length; large counters yield longer codes. The alphabet
// needs at least three characters.
func NewSqids(opts ...Option) (Generator, error) {
	s := newSettings(opts)

	sq, err := sqids.New(sqids.Options{
		Alphabet:  s.alphabet,
		MinLength: uint8(s.length),
	})
	if err != nil {
		return nil, fmt.Errorf("sqids init failed: %w", err)
	}

	start, err := rand.Int(rand.Reader, big.NewInt(1<<32))
	if err != nil {
		return nil, err
	}

	g := &sequential{prefix: s.prefix, sq: sq}
	g.next.Store(start.Uint64())
	return g, nil
}

func (g *sequential) Generate() (string, error) {
	id, err := g.sq.Encode([]uint64{g.next.Add(1)})
	if err != nil {
		return "", err
	}
	return g.prefix + id, nil
}

// ValidateAlphabet reports whether alphabet can be used for code suffixes:
// at least two distinct single-byte characters.
func ValidateAlphabet(alphabet string) error {
	if len(alphabet) < 2 {
		return errors.New("alphabet must contain at least two characters")
	}
	seen := make(map[byte]bool, len(alphabet))
	for i := 0; i < len(alphabet); i++ {
		c := alphabet[i]
		if c >= 0x80 {
			return errors.New("alphabet must be ASCII")
		}
		if seen[c] {
			return errors.New("alphabet contains duplicate characters")
		}
		seen[c] = true
	}
	return nil
}
