package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Source kinds.
const (
	SourceLocal = "local"
	SourceSFTP  = "sftp"
	SourceS3    = "s3"
	SourceGCS   = "gcs"
)

// Quarantine sinks.
const (
	SinkFile  = "file"
	SinkTable = "table"
)

// Config contains runtime configuration for the projector and its ops API.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	DB         DBConfig
	Source     SourceConfig
	Fetch      FetchConfig
	Projection ProjectionConfig
	Quarantine QuarantineConfig
	Lock       LockConfig
	Telemetry  TelemetryConfig
	HTTP       HTTPConfig

	RunTimeout time.Duration `env:"RUN_TIMEOUT" envDefault:"15m"`
}

// DBConfig locates the Postgres database holding the log and staging tables.
// DB_URL wins; otherwise the URL is assembled from the individual parts.
type DBConfig struct {
	URL      string `env:"DB_URL"`
	Host     string `env:"DB_HOST"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME"`
	SSLMode  string `env:"DB_SSL" envDefault:"require"`
}

// SourceConfig selects and configures the remote event file source.
type SourceConfig struct {
	Kind      string `env:"SOURCE_KIND" envDefault:"local"`
	Dir       string `env:"SOURCE_DIR"`
	Ext       string `env:"SOURCE_EXT" envDefault:".jsonl"`
	MirrorDir string `env:"SOURCE_MIRROR_DIR"`

	SFTPHost       string        `env:"SFTP_HOST"`
	SFTPUser       string        `env:"SFTP_USER"`
	SSHKeyPath     string        `env:"SSH_KEY_PATH"`
	SSHKnownHosts  string        `env:"SSH_KNOWN_HOSTS"`
	SSHDialTimeout time.Duration `env:"SSH_DIAL_TIMEOUT" envDefault:"15s"`

	Bucket   string `env:"SOURCE_BUCKET"`
	Prefix   string `env:"SOURCE_PREFIX"`
	Region   string `env:"S3_REGION" envDefault:"us-east-1"`
	Endpoint string `env:"S3_ENDPOINT"`
}

// FetchConfig bounds the remote catch-up.
type FetchConfig struct {
	Timeout        time.Duration `env:"FETCH_TIMEOUT" envDefault:"5m"`
	FilesPerSecond float64       `env:"FETCH_FILES_PER_SECOND" envDefault:"0"`
}

// ProjectionConfig tunes the projection router.
type ProjectionConfig struct {
	Strategy              string   `env:"PROJECTION_STRATEGY" envDefault:"ledger"`
	BatchLimit            int      `env:"PROJECTION_BATCH_LIMIT" envDefault:"0"`
	Workers               int      `env:"PROJECTION_WORKERS" envDefault:"4"`
	SOPDisallowedPrefixes []string `env:"SOP_DISALLOWED_PREFIXES" envSeparator:"," envDefault:"PART-"`
}

// QuarantineConfig selects where fetch-stage rejects go.
type QuarantineConfig struct {
	Sink string `env:"QUARANTINE_SINK" envDefault:"table"`
	Path string `env:"QUARANTINE_PATH" envDefault:"data/quarantine/events.jsonl"`
}

// LockConfig configures run mutual exclusion. Without REDIS_ADDR a Postgres
// advisory lock is used.
type LockConfig struct {
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	Key           string        `env:"LOCK_KEY" envDefault:"event-projector:run"`
	TTL           time.Duration `env:"LOCK_TTL" envDefault:"30m"`
}

// TelemetryConfig enables OTLP metric export when an endpoint is set.
type TelemetryConfig struct {
	OTLPEndpoint string        `env:"OTLP_ENDPOINT"`
	Insecure     bool          `env:"OTLP_INSECURE" envDefault:"false"`
	Interval     time.Duration `env:"OTLP_EXPORT_INTERVAL" envDefault:"15s"`
	ServiceName  string        `env:"SERVICE_NAME" envDefault:"event-projector"`
}

// HTTPConfig configures the ops API (cmd/api).
type HTTPConfig struct {
	Addr             string        `env:"HTTP_ADDR" envDefault:":8080"`
	OperatorKeysRaw  string        `env:"OPERATOR_KEYS"`
	ScheduleInterval time.Duration `env:"SCHEDULE_INTERVAL" envDefault:"0"`

	// OperatorKeys maps apiKey -> operator name.
	OperatorKeys map[string]string `env:"-"`
}

// Load reads configuration from environment variables and validates it.
// OPERATOR_KEYS format: "alice:key1,bob:key2"
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	keys, err := parseOperatorKeys(cfg.HTTP.OperatorKeysRaw)
	if err != nil {
		return Config{}, err
	}
	cfg.HTTP.OperatorKeys = keys

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements that env tags cannot express.
func (c Config) Validate() error {
	if _, err := c.DB.DSN(); err != nil {
		return err
	}

	switch c.Source.Kind {
	case SourceLocal:
		if c.Source.Dir == "" {
			return errors.New("SOURCE_DIR required for local source")
		}
	case SourceSFTP:
		if c.Source.SFTPHost == "" || c.Source.SFTPUser == "" || c.Source.SSHKeyPath == "" || c.Source.Dir == "" {
			return errors.New("SFTP_HOST, SFTP_USER, SSH_KEY_PATH and SOURCE_DIR required for sftp source")
		}
	case SourceS3, SourceGCS:
		if c.Source.Bucket == "" {
			return fmt.Errorf("SOURCE_BUCKET required for %s source", c.Source.Kind)
		}
	default:
		return fmt.Errorf("unknown SOURCE_KIND %q", c.Source.Kind)
	}
	if !strings.HasPrefix(c.Source.Ext, ".") {
		return errors.New(`SOURCE_EXT must start with "."`)
	}

	switch c.Projection.Strategy {
	case "ledger", "antijoin":
	default:
		return fmt.Errorf("unknown PROJECTION_STRATEGY %q", c.Projection.Strategy)
	}
	if c.Projection.Workers < 1 {
		return errors.New("PROJECTION_WORKERS must be >= 1")
	}
	if c.Projection.BatchLimit < 0 {
		return errors.New("PROJECTION_BATCH_LIMIT must be >= 0")
	}

	switch c.Quarantine.Sink {
	case SinkTable:
	case SinkFile:
		if c.Quarantine.Path == "" {
			return errors.New("QUARANTINE_PATH required for file sink")
		}
	default:
		return fmt.Errorf("unknown QUARANTINE_SINK %q", c.Quarantine.Sink)
	}

	if c.Fetch.FilesPerSecond < 0 {
		return errors.New("FETCH_FILES_PER_SECOND must be >= 0")
	}

	// A Redis lock expires on its own; a run must end before it does.
	if c.Lock.RedisAddr != "" {
		if c.Lock.TTL <= 0 {
			return errors.New("LOCK_TTL must be > 0 with REDIS_ADDR")
		}
		if c.RunTimeout <= 0 || c.RunTimeout >= c.Lock.TTL {
			return fmt.Errorf("RUN_TIMEOUT (%s) must be > 0 and shorter than LOCK_TTL (%s) with REDIS_ADDR", c.RunTimeout, c.Lock.TTL)
		}
	}
	return nil
}

// DSN returns the Postgres connection URL.
func (d DBConfig) DSN() (string, error) {
	if u := strings.TrimSpace(d.URL); u != "" {
		return u, nil
	}
	if d.Host == "" || d.User == "" || d.Name == "" {
		return "", errors.New("DB_URL required (or DB_HOST, DB_USER and DB_NAME)")
	}

	// url.UserPassword escapes reserved characters in the password.
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	if d.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {d.SSLMode}}.Encode()
	}
	return u.String(), nil
}

func parseOperatorKeys(raw string) (map[string]string, error) {
	keys := map[string]string{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return keys, nil
	}

	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 {
			return nil, errors.New(`OPERATOR_KEYS must be "name:key,name:key"`)
		}
		name := strings.TrimSpace(parts[0])
		key := strings.TrimSpace(parts[1])
		if name == "" || key == "" {
			return nil, errors.New(`OPERATOR_KEYS must be "name:key,name:key"`)
		}
		keys[key] = name
	}
	return keys, nil
}
