package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sundayezeilo/linkkeeper/internal/config"
	"github.com/sundayezeilo/linkkeeper/internal/shortener"
)

// appEnvKeys lists every variable config.Load reads.
var appEnvKeys = []string{
	"LINK_MAX_CLICKS", "LINK_MAX_TIME_TO_LIVE",
	"APP_ENV", "LOG_LEVEL", "ID_VERSION", "METRICS_FILE",
	"CODE_STRATEGY", "CODE_PREFIX", "CODE_ALPHABET", "CODE_LENGTH",
	"STORE_DRIVER", "USER_CACHE_SIZE", "RESOLVER_MODE",
	"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME",
	"DB_SSLMODE", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_KEY_PREFIX",
}

// clearEnv unsets every config variable for the test. Values loaded from
// an env file are rolled back by the same cleanup.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range appEnvKeys {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
}

func writeEnvFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	return path
}

func newTestApp(t *testing.T, input string, extra ...string) (*App, *bytes.Buffer) {
	t.Helper()
	clearEnv(t)

	lines := append([]string{
		"APP_ENV=test",
		"LINK_MAX_CLICKS=3",
		"LINK_MAX_TIME_TO_LIVE=1d",
		"CODE_PREFIX=t/",
	}, extra...)

	out := &bytes.Buffer{}
	a, err := New(context.Background(), Options{
		EnvFile: writeEnvFile(t, lines...),
		In:      strings.NewReader(input),
		Out:     out,
		ErrOut:  io.Discard,
	})
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown() })
	return a, out
}

func TestNew_MemoryDriver(t *testing.T) {
	a, _ := newTestApp(t, "")

	if a.Config.Store.Driver != config.DriverMemory {
		t.Errorf("Store.Driver = %s, want memory", a.Config.Store.Driver)
	}
	if a.DBPool != nil || a.Redis != nil {
		t.Error("memory driver opened a network connection")
	}
	if a.users != nil {
		t.Error("memory driver should not be fronted by the user cache")
	}
	if got := a.Service.DefaultClicks(); got != 3 {
		t.Errorf("DefaultClicks() = %d, want 3", got)
	}
}

func TestStart_ScriptedSession(t *testing.T) {
	script := strings.Join([]string{
		"create",
		"https://example.com/docs",
		"",
		"",
		"list",
		"quit",
	}, "\n") + "\n"

	a, out := newTestApp(t, script)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() unexpected error: %v", err)
	}

	text := out.String()
	for _, want := range []string{
		"You are not logged in, registering a new user.",
		"Short link created.",
		"t/",
		"https://example.com/docs",
		"Bye.",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestSweep(t *testing.T) {
	a, _ := newTestApp(t, "")
	ctx := context.Background()

	sess, err := a.Service.Register(ctx)
	if err != nil {
		t.Fatalf("Register() unexpected error: %v", err)
	}
	link, err := a.Service.CreateLink(ctx, sess, shortener.CreateLinkRequest{LongURL: "https://example.com", MaxClicks: 1})
	if err != nil {
		t.Fatalf("CreateLink() unexpected error: %v", err)
	}
	if _, err := a.Service.FetchLink(ctx, sess, link.Code); err != nil {
		t.Fatalf("FetchLink() unexpected error: %v", err)
	}

	report, err := a.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() unexpected error: %v", err)
	}
	if report.Scanned != 1 || len(report.Evicted) != 1 {
		t.Errorf("Sweep() = %+v, want one scanned and evicted", report)
	}
}

func TestShutdown_WritesMetrics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linkkeeper.prom")
	a, _ := newTestApp(t, "", "METRICS_FILE="+path)
	ctx := context.Background()

	sess, err := a.Service.Register(ctx)
	if err != nil {
		t.Fatalf("Register() unexpected error: %v", err)
	}
	if _, err := a.Service.CreateLink(ctx, sess, shortener.CreateLinkRequest{LongURL: "https://example.com"}); err != nil {
		t.Fatalf("CreateLink() unexpected error: %v", err)
	}

	if err := a.Shutdown(); err != nil {
		t.Fatalf("Shutdown() unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read metrics file: %v", err)
	}
	if !strings.Contains(string(data), "linkkeeper_links_created_total 1") {
		t.Errorf("metrics file missing created counter:\n%s", data)
	}
}

func TestNew_Errors(t *testing.T) {
	t.Run("missing env file", func(t *testing.T) {
		clearEnv(t)
		_, err := New(context.Background(), Options{
			EnvFile: filepath.Join(t.TempDir(), "absent.env"),
			ErrOut:  io.Discard,
		})
		if err == nil {
			t.Fatal("New() expected error for a missing env file")
		}
	})

	t.Run("invalid config", func(t *testing.T) {
		clearEnv(t)
		_, err := New(context.Background(), Options{
			EnvFile: writeEnvFile(t, "APP_ENV=test", "LINK_MAX_CLICKS=0", "LINK_MAX_TIME_TO_LIVE=1h"),
			ErrOut:  io.Discard,
		})
		if err == nil || !strings.Contains(err.Error(), "failed to load config") {
			t.Fatalf("New() error = %v, want config failure", err)
		}
	})

	t.Run("unreachable redis", func(t *testing.T) {
		clearEnv(t)
		_, err := New(context.Background(), Options{
			EnvFile: writeEnvFile(t,
				"APP_ENV=test", "LINK_MAX_CLICKS=1", "LINK_MAX_TIME_TO_LIVE=1h",
				"STORE_DRIVER=redis", "REDIS_ADDR=127.0.0.1:1",
			),
			ErrOut: io.Discard,
		})
		if err == nil || !strings.Contains(err.Error(), "failed to connect to redis") {
			t.Fatalf("New() error = %v, want redis connection failure", err)
		}
	})
}

func TestNewCodeGenerator(t *testing.T) {
	tests := []struct {
		name   string
		cfg    config.GeneratorConfig
		prefix string
	}{
		{"random with defaults", config.GeneratorConfig{Strategy: config.StrategyRandom}, "https://clck.ru/"},
		{"random with prefix", config.GeneratorConfig{Strategy: config.StrategyRandom, Prefix: "x/", Length: 4}, "x/"},
		{"sqids", config.GeneratorConfig{Strategy: config.StrategySqids, Prefix: "s/"}, "s/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen, err := newCodeGenerator(tt.cfg)
			if err != nil {
				t.Fatalf("newCodeGenerator() unexpected error: %v", err)
			}
			code, err := gen.Generate()
			if err != nil {
				t.Fatalf("Generate() unexpected error: %v", err)
			}
			if !strings.HasPrefix(code, tt.prefix) {
				t.Errorf("code %q does not start with %q", code, tt.prefix)
			}
		})
	}
}

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := setupLogger(io.Discard, tt.level)
			ctx := context.Background()
			if !logger.Enabled(ctx, tt.want) {
				t.Errorf("level %s not enabled", tt.want)
			}
			if tt.want > slog.LevelDebug && logger.Enabled(ctx, tt.want-1) {
				t.Errorf("level below %s enabled", tt.want)
			}
		})
	}
}

func TestSetupLogger_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	setupLogger(&buf, "info").Info("hello", "code", "abc")

	if !strings.Contains(buf.String(), `"msg":"hello"`) || !strings.Contains(buf.String(), `"code":"abc"`) {
		t.Errorf("log line = %s, want JSON with msg and code", buf.String())
	}
}
