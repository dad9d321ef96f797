package config

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env       string
	LogLevel  string
	APIURL    *url.URL
	SocketURL *url.URL

	Email    string
	Password string

	HTTPTimeout   time.Duration
	SocketTimeout time.Duration
	TypingIdle    time.Duration
	RequestPoll   time.Duration
	EmitRate      float64

	PrefsDSN string
	Sound    string
}

func Load() (Config, error) {
	path := os.Getenv("APP_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := loadDotEnvFile(path, os.Setenv, os.Getenv); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("APP_ENV_FILE: %w", err)
	}
	return LoadFromEnv(os.Getenv)
}

func LoadFromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		Env:      getenv("APP_ENV"),
		LogLevel: getenv("APP_LOG_LEVEL"),
		Email:    strings.TrimSpace(strings.ToLower(getenv("APP_EMAIL"))),
		Password: getenv("APP_PASSWORD"),
		PrefsDSN: strings.TrimSpace(getenv("APP_PREFS_DSN")),
		Sound:    strings.TrimSpace(strings.ToLower(getenv("APP_SOUND"))),
	}

	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	switch cfg.Env {
	case "dev", "prod", "test":
	default:
		return Config{}, errors.New("APP_ENV: must be one of dev, test, prod")
	}

	apiURLRaw := getenv("APP_API_URL")
	if apiURLRaw == "" {
		return Config{}, errors.New("APP_API_URL: required")
	}
	apiURL, err := parseBaseURL("APP_API_URL", apiURLRaw, "http", "https")
	if err != nil {
		return Config{}, err
	}
	cfg.APIURL = apiURL

	if raw := getenv("APP_SOCKET_URL"); raw != "" {
		socketURL, err := parseBaseURL("APP_SOCKET_URL", raw, "http", "https", "ws", "wss")
		if err != nil {
			return Config{}, err
		}
		cfg.SocketURL = socketURL
	} else {
		// The socket server shares the API origin; the API prefix is dropped.
		cfg.SocketURL = &url.URL{Scheme: apiURL.Scheme, Host: apiURL.Host}
	}

	if cfg.HTTPTimeout, err = parseDuration(getenv, "APP_HTTP_TIMEOUT", 15*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.SocketTimeout, err = parseDuration(getenv, "APP_SOCKET_TIMEOUT", 20*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.TypingIdle, err = parseDuration(getenv, "APP_TYPING_IDLE", 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.RequestPoll, err = parseDuration(getenv, "APP_REQUEST_POLL", 30*time.Second); err != nil {
		return Config{}, err
	}

	cfg.EmitRate = 20
	if raw := getenv("APP_EMIT_RATE"); raw != "" {
		rate, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Config{}, fmt.Errorf("APP_EMIT_RATE: %w", err)
		}
		if rate <= 0 {
			return Config{}, errors.New("APP_EMIT_RATE: must be > 0")
		}
		cfg.EmitRate = rate
	}

	if cfg.PrefsDSN != "" {
		switch {
		case strings.HasPrefix(cfg.PrefsDSN, "postgres://"), strings.HasPrefix(cfg.PrefsDSN, "postgresql://"):
		case strings.HasPrefix(cfg.PrefsDSN, "redis://"), strings.HasPrefix(cfg.PrefsDSN, "rediss://"):
		default:
			return Config{}, errors.New("APP_PREFS_DSN: scheme must be postgres or redis")
		}
	}

	if cfg.Sound == "" {
		cfg.Sound = "log"
	}
	switch cfg.Sound {
	case "log", "bell":
	default:
		return Config{}, errors.New("APP_SOUND: must be one of log, bell")
	}

	if cfg.Password != "" && cfg.Email == "" {
		return Config{}, errors.New("APP_EMAIL: required when APP_PASSWORD is set")
	}

	if cfg.IsProd() && cfg.APIURL.Scheme != "https" {
		return Config{}, errors.New("APP_API_URL: must use https in prod")
	}

	return cfg, nil
}

func (c Config) IsProd() bool { return c.Env == "prod" }

// HasCredentials reports whether the daemon can log in without an existing session.
func (c Config) HasCredentials() bool { return c.Email != "" && c.Password != "" }

func parseBaseURL(name, raw string, schemes ...string) (*url.URL, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return nil, fmt.Errorf("%s: must be an absolute URL", name)
	}
	for _, s := range schemes {
		if parsed.Scheme == s {
			parsed.Path = strings.TrimRight(parsed.Path, "/")
			return parsed, nil
		}
	}
	return nil, fmt.Errorf("%s: scheme must be one of %s", name, strings.Join(schemes, ", "))
}

func parseDuration(getenv func(string) string, name string, def time.Duration) (time.Duration, error) {
	raw := getenv(name)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be > 0", name)
	}
	return d, nil
}

// loadDotEnvFile applies KEY=VALUE lines from path. Variables that are already
// set win over the file, and empty values are skipped.
func loadDotEnvFile(path string, setenv func(string, string) error, getenv func(string) string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))
		if key == "" || value == "" {
			continue
		}
		if getenv(key) != "" {
			continue
		}
		if err := setenv(key, value); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return sc.Err()
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}
