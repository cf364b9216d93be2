// Package resolver provides the ways a fetched link is followed: opening
// it in the system browser or printing it.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/pkg/browser"

	"github.com/sundayezeilo/linkkeeper/internal/errx"
)

// Browser opens long URLs in the user's default browser.
type Browser struct {
	open func(string) error
}

type BrowserOption func(*Browser)

// WithOpener replaces the function that launches the browser.
func WithOpener(open func(string) error) BrowserOption {
	return func(b *Browser) {
		if open != nil {
			b.open = open
		}
	}
}

// NewBrowser returns a Browser. The helper process's own output goes to out,
// so it does not corrupt the console.
func NewBrowser(out io.Writer, opts ...BrowserOption) *Browser {
	if out != nil {
		browser.Stdout = out
		browser.Stderr = out
	}
	b := &Browser{open: browser.OpenURL}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Browser) Resolve(ctx context.Context, longURL string) error {
	const op = "resolver.Browser.Resolve"

	if err := ctx.Err(); err != nil {
		return errx.E(op, errx.ResolutionFailure, err)
	}
	if err := validateURL(longURL); err != nil {
		return errx.E(op, errx.Invalid, err)
	}
	if err := b.open(longURL); err != nil {
		return errx.E(op, errx.ResolutionFailure, fmt.Errorf("open browser: %w", err))
	}
	return nil
}

// Printer writes the long URL to a writer instead of opening it. It suits
// headless terminals and tests.
type Printer struct {
	w io.Writer
}

func NewPrinter(w io.Writer) *Printer { return &Printer{w: w} }

func (p *Printer) Resolve(ctx context.Context, longURL string) error {
	const op = "resolver.Printer.Resolve"

	if err := ctx.Err(); err != nil {
		return errx.E(op, errx.ResolutionFailure, err)
	}
	if _, err := fmt.Fprintf(p.w, "-> %s\n", longURL); err != nil {
		return errx.E(op, errx.ResolutionFailure, err)
	}
	return nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("url cannot be empty")
	}

	parsedURL, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return errors.New("invalid url format")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return errors.New("url scheme must be http or https")
	}
	if parsedURL.Host == "" {
		return errors.New("url must include host")
	}
	return nil
}
