// Package console runs the interactive text front end. It owns the current
// session and drives the shortener service one command at a time, running
// a sweep and an inbox drain after every command.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sundayezeilo/linkkeeper/internal/errx"
	"github.com/sundayezeilo/linkkeeper/internal/shortener"
	"github.com/sundayezeilo/linkkeeper/internal/ttl"
)

const timeLayout = "2006-01-02 15:04:05 MST"

type Console struct {
	svc    shortener.Service
	in     io.Reader
	out    io.Writer
	logger *slog.Logger

	session shortener.Session
	lines   <-chan string
	readErr <-chan error
}

// Config holds the optional console settings.
type Config struct {
	Logger *slog.Logger
	// Session preselects a logged-in user.
	Session shortener.Session
}

func New(svc shortener.Service, in io.Reader, out io.Writer, config *Config) *Console {
	if config == nil {
		config = &Config{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Console{
		svc:     svc,
		in:      in,
		out:     out,
		logger:  logger,
		session: config.Session,
	}
}

// Session returns the currently installed session.
func (c *Console) Session() shortener.Session { return c.session }

type command struct {
	name    string
	aliases []string
	title   string
	run     func(c *Console, ctx context.Context) error
}

var commands = []command{
	{"create", []string{"1"}, "Create a short link", (*Console).create},
	{"login", []string{"2"}, "Log in with an existing user id", (*Console).login},
	{"register", []string{"3"}, "Register a new user", (*Console).register},
	{"ttl", []string{"4"}, "Change a link's time to live", (*Console).updateTTL},
	{"clicks", []string{"5"}, "Change a link's click limit", (*Console).updateClicks},
	{"fetch", []string{"6"}, "Follow a short link", (*Console).fetch},
	{"delete", []string{"7"}, "Delete a short link", (*Console).delete},
	{"list", []string{"8"}, "List your links", (*Console).list},
}

var quitWords = map[string]bool{"9": true, "quit": true, "exit": true, "q": true}

func lookup(input string) (command, bool) {
	input = strings.ToLower(input)
	for _, cmd := range commands {
		if cmd.name == input {
			return cmd, true
		}
		for _, alias := range cmd.aliases {
			if alias == input {
				return cmd, true
			}
		}
	}
	return command{}, false
}

// Run reads commands until quit, end of input or ctx cancellation.
// Command failures are reported and the loop continues.
func (c *Console) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	c.startReader(done)

	for {
		c.printMenu()

		input, err := c.readLine(ctx, "Enter command: ")
		if err != nil {
			return c.exit(err)
		}
		if quitWords[strings.ToLower(input)] {
			c.println("Bye.")
			return nil
		}

		// A blank line runs no command but still sweeps and drains.
		if input != "" {
			cmd, ok := lookup(input)
			if !ok {
				c.println("Unknown command.")
			} else if err := cmd.run(c, ctx); err != nil {
				if isInputClosed(err) {
					return c.exit(err)
				}
				c.report(cmd.name, err)
			}
		}

		c.sweep(ctx)
		c.drainInbox(ctx)
	}
}

func (c *Console) exit(err error) error {
	if errors.Is(err, io.EOF) {
		c.println("")
		return nil
	}
	return err
}

func isInputClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// startReader feeds input lines through a channel so that a blocked read
// does not prevent Run from observing ctx.
func (c *Console) startReader(done <-chan struct{}) {
	lines := make(chan string)
	readErr := make(chan error, 1)
	c.lines, c.readErr = lines, readErr

	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}
		readErr <- err
	}()
}

func (c *Console) readLine(ctx context.Context, prompt string) (string, error) {
	fmt.Fprint(c.out, prompt)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line := <-c.lines:
		return strings.TrimSpace(line), nil
	case err := <-c.readErr:
		return "", err
	}
}

func (c *Console) println(a ...any) { fmt.Fprintln(c.out, a...) }

func (c *Console) printf(format string, a ...any) { fmt.Fprintf(c.out, format, a...) }

func (c *Console) printMenu() {
	c.println("")
	c.println("===== linkkeeper =====")
	for _, cmd := range commands {
		c.printf("%s. %s (%s)\n", cmd.aliases[0], cmd.title, cmd.name)
	}
	c.println("9. Quit (quit)")
}

func (c *Console) report(name string, err error) {
	c.logger.Debug("command failed",
		"command", name,
		"op", errx.OpOf(err),
		"error_kind", errx.KindOf(err).String(),
		"error", err,
	)
	c.printf("Error: %s\n", describe(err))
}

// describe renders err for a person at the terminal.
func describe(err error) string {
	switch errx.KindOf(err) {
	case errx.NotAuthorized:
		return "you are not logged in; use login or register first"
	case errx.NotFound:
		return "no such link or user"
	case errx.NotOwner:
		return "that link belongs to another user"
	case errx.Expired:
		return "the link has expired"
	case errx.OutOfClicks:
		return "the link has no clicks left"
	case errx.Invalid:
		return "invalid input: " + rootCause(err).Error()
	case errx.GenerationExhausted:
		return "could not allocate a unique short code, try again"
	case errx.ResolutionFailure:
		return "could not open the link: " + rootCause(err).Error()
	case errx.RepositoryFailure, errx.NotificationFailure:
		return "storage error: " + rootCause(err).Error()
	default:
		return err.Error()
	}
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

/***************
 * Commands
 ***************/

func (c *Console) create(ctx context.Context) error {
	const op = "console.create"

	longURL, err := c.readLine(ctx, "Long URL: ")
	if err != nil {
		return err
	}

	defTTL := c.svc.DefaultTTL()
	ttlText, err := c.readLine(ctx, fmt.Sprintf(
		"Time to live, e.g. 30s, 30m, 12h, 7d (default %d seconds, %s): ",
		int64(defTTL/time.Second), ttl.Format(defTTL)))
	if err != nil {
		return err
	}
	lifetime, err := ttl.Parse(ttlText)
	if err != nil {
		return err
	}

	clicksText, err := c.readLine(ctx, fmt.Sprintf("Click limit (default %d): ", c.svc.DefaultClicks()))
	if err != nil {
		return err
	}
	clicks, err := parseCount(op, clicksText)
	if err != nil {
		return err
	}

	req := shortener.CreateLinkRequest{LongURL: longURL, TTL: lifetime, MaxClicks: clicks}
	link, err := c.svc.CreateLink(ctx, c.session, req)
	if errx.KindOf(err) == errx.NotAuthorized {
		c.println("You are not logged in, registering a new user.")
		if err := c.register(ctx); err != nil {
			return err
		}
		link, err = c.svc.CreateLink(ctx, c.session, req)
	}
	if err != nil {
		return err
	}

	c.println("Short link created.")
	c.printLink(link)
	return nil
}

func (c *Console) login(ctx context.Context) error {
	const op = "console.login"

	text, err := c.readLine(ctx, "User id: ")
	if err != nil {
		return err
	}
	id, err := uuid.Parse(text)
	if err != nil {
		return errx.E(op, errx.Invalid, fmt.Errorf("%q is not a user id", text))
	}

	sess, err := c.svc.Login(ctx, id)
	if err != nil {
		return err
	}
	c.session = sess
	c.printf("Logged in as %s\n", sess.UserID)
	return nil
}

func (c *Console) register(ctx context.Context) error {
	sess, err := c.svc.Register(ctx)
	if err != nil {
		return err
	}
	c.session = sess
	c.printf("Registered user %s (keep this id to log in later)\n", sess.UserID)
	return nil
}

func (c *Console) updateTTL(ctx context.Context) error {
	code, err := c.readLine(ctx, "Short link: ")
	if err != nil {
		return err
	}
	text, err := c.readLine(ctx, "New time to live, e.g. 30s, 30m, 12h, 7d (empty for the maximum): ")
	if err != nil {
		return err
	}
	lifetime := c.svc.DefaultTTL()
	if strings.TrimSpace(text) != "" {
		if lifetime, err = ttl.Parse(text); err != nil {
			return err
		}
	}

	link, err := c.svc.UpdateExpiration(ctx, c.session, code, lifetime)
	if err != nil {
		return err
	}
	c.println("Time to live updated.")
	c.printf("Short link: %s\nExpires at: %s\n", link.Code, link.ExpiresAt.Format(timeLayout))
	return nil
}

func (c *Console) updateClicks(ctx context.Context) error {
	const op = "console.updateClicks"

	code, err := c.readLine(ctx, "Short link: ")
	if err != nil {
		return err
	}
	text, err := c.readLine(ctx, "New click limit: ")
	if err != nil {
		return err
	}
	if text == "" {
		return errx.E(op, errx.Invalid, errors.New("click limit is required"))
	}
	clicks, err := parseCount(op, text)
	if err != nil {
		return err
	}

	link, err := c.svc.UpdateMaxClicks(ctx, c.session, code, clicks)
	if err != nil {
		return err
	}
	c.println("Click limit updated.")
	c.printf("Short link: %s\nClicks left: %d\n", link.Code, link.RemainingClicks)
	return nil
}

func (c *Console) fetch(ctx context.Context) error {
	code, err := c.readLine(ctx, "Short link: ")
	if err != nil {
		return err
	}

	link, err := c.svc.FetchLink(ctx, c.session, code)
	if err != nil {
		return err
	}
	c.printf("Opened %s (%d clicks left)\n", link.LongURL, link.RemainingClicks)
	return nil
}

func (c *Console) delete(ctx context.Context) error {
	code, err := c.readLine(ctx, "Short link to delete: ")
	if err != nil {
		return err
	}

	if err := c.svc.DeleteLink(ctx, c.session, code); err != nil {
		return err
	}
	c.println("Link deleted.")
	return nil
}

func (c *Console) list(ctx context.Context) error {
	links, err := c.svc.ListLinks(ctx, c.session)
	if err != nil {
		return err
	}
	if len(links) == 0 {
		c.println("You have no short links.")
		return nil
	}

	c.println("Your short links:")
	for _, link := range links {
		c.println("----------------------------------------")
		c.printLink(link)
	}
	c.println("----------------------------------------")
	return nil
}

func (c *Console) printLink(link shortener.Link) {
	c.printf("Short link:  %s\n", link.Code)
	c.printf("Long link:   %s\n", link.LongURL)
	c.printf("Expires at:  %s\n", link.ExpiresAt.Format(timeLayout))
	c.printf("Clicks left: %d\n", link.RemainingClicks)
}

/***************
 * After every command
 ***************/

func (c *Console) sweep(ctx context.Context) {
	if _, err := c.svc.Sweep(ctx); err != nil {
		c.logger.Warn("sweep failed", "op", errx.OpOf(err), "error_kind", errx.KindOf(err).String(), "error", err)
		c.printf("Error while removing dead links: %s\n", describe(err))
	}
}

func (c *Console) drainInbox(ctx context.Context) {
	notes, err := c.svc.ConsumeNotifications(ctx, c.session)
	if errx.KindOf(err) == errx.NotAuthorized {
		c.println("Log in to receive notifications.")
		return
	}

	// Notifications already marked read are printed even when a later
	// one failed; they will not be delivered again.
	if len(notes) > 0 {
		c.println("New notifications:")
		for _, n := range notes {
			c.printf("  %s\n", n.Message)
		}
	}

	switch {
	case err != nil:
		c.printf("Error while reading notifications: %s\n", describe(err))
	case len(notes) == 0:
		c.println("No new notifications.")
	}
}

func parseCount(op, text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, errx.E(op, errx.Invalid, fmt.Errorf("%q is not a whole number", text))
	}
	return n, nil
}
