package config

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"agentcal/internal/model"
)

// MockConfig controls synthetic calendar generation for agents without a
// calendar file.
type MockConfig struct {
	// Enabled turns on materialization of missing calendars.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Events is the number of random one-off events per calendar.
	Events int `yaml:"events" json:"events"`
	// HorizonDays is how many days ahead events are spread over.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`
}

// DigestConfig controls the periodic availability digest.
type DigestConfig struct {
	// Cron is a cron-style schedule string (e.g. "*/15 * * * *").
	// Empty disables the job.
	Cron string `yaml:"cron" json:"cron"`
	// MinBlockMinutes is the minimum work block length the digest looks for.
	MinBlockMinutes int `yaml:"min_block_minutes" json:"min_block_minutes"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// CalendarsDir holds one <agent_id>.ics file per agent.
	CalendarsDir string `yaml:"calendars_dir" json:"calendars_dir"`

	// Agents is the directory of known agents. Queries for any other id
	// fail with not found.
	Agents []model.Agent `yaml:"agents" json:"agents"`

	Mock   MockConfig   `yaml:"mock" json:"mock"`
	Digest DigestConfig `yaml:"digest" json:"digest"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen          = "127.0.0.1:8080"
	defaultLogLevel        = "info"
	defaultCalendarsDir    = "./data/calendars"
	defaultMockEvents      = 10
	defaultMockHorizonDays = 14
	defaultDigestCron      = "*/15 * * * *"
	defaultMinBlockMinutes = 90
)

func defaultAgents() []model.Agent {
	return []model.Agent{
		{
			ID:        "agent-001",
			Name:      "Sarah Chen",
			Specialty: "Residential",
			Clients: []model.Client{
				{ID: "client-001", Name: "Michael Brown", Email: "m.brown@example.com", Phone: "555-0101", Status: "active"},
				{ID: "client-002", Name: "Emma Davis", Email: "emma.d@example.com", Phone: "555-0102", Status: "prospect"},
			},
		},
		{
			ID:        "agent-002",
			Name:      "James Wilson",
			Specialty: "Commercial",
			Clients: []model.Client{
				{ID: "client-003", Name: "Olivia Martinez", Email: "olivia.m@example.com", Phone: "555-0103", Status: "active"},
			},
		},
		{
			ID:        "agent-003",
			Name:      "Priya Patel",
			Specialty: "Luxury",
		},
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       defaultListen,
		LogLevel:     defaultLogLevel,
		CalendarsDir: defaultCalendarsDir,
		Agents:       defaultAgents(),
		Mock: MockConfig{
			Enabled:     true,
			Events:      defaultMockEvents,
			HorizonDays: defaultMockHorizonDays,
		},
		Digest: DigestConfig{
			Cron:            defaultDigestCron,
			MinBlockMinutes: defaultMinBlockMinutes,
		},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.CalendarsDir == "" {
		c.CalendarsDir = defaultCalendarsDir
	}
	if c.Agents == nil {
		c.Agents = []model.Agent{}
	}
	if c.Mock.Events <= 0 {
		c.Mock.Events = defaultMockEvents
	}
	if c.Mock.HorizonDays <= 0 {
		c.Mock.HorizonDays = defaultMockHorizonDays
	}
	// Digest.Cron stays empty if the user cleared it: that disables the job.
	if c.Digest.MinBlockMinutes <= 0 {
		c.Digest.MinBlockMinutes = defaultMinBlockMinutes
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" && c.BasicAuth.Password == "" {
		c.BasicAuth = nil
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".agentcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
