package shortener

import "context"

// Resolver follows a long URL on behalf of the caller, for example by
// opening it in a browser.
type Resolver interface {
	Resolve(ctx context.Context, longURL string) error
}

// ResolverFunc adapts a plain function to Resolver.
type ResolverFunc func(ctx context.Context, longURL string) error

func (f ResolverFunc) Resolve(ctx context.Context, longURL string) error { return f(ctx, longURL) }

type noopResolver struct{}

func (noopResolver) Resolve(context.Context, string) error { return nil }
