// Package config loads and hot-reloads the system configuration (spec.md
// §6 "External interfaces", ambient configuration layer). The system
// config itself is YAML, following ManuGH-xg2g's fsnotify-watched loader
// rather than the teacher's plain command-line flags; the per-user passwd
// file keeps the teacher's line-oriented feel but is parsed with the
// protocol engine's own shell-style splitter (internal/protocol.SplitArgs)
// so wire commands and config files share one quoting/escaping rule.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crazyscot/disorder/internal/auth"
	"github.com/crazyscot/disorder/internal/errors"
)

// System is the top-level YAML document (spec.md §6). Durations are
// strings in the file ("500ms", "2h") and parsed into time.Duration by
// Load; the in-memory struct is what the rest of the module consumes.
type System struct {
	Listeners              []string      `yaml:"listeners"`
	UnixSocket             string        `yaml:"unix_socket"`
	DataDir                string        `yaml:"data_dir"`
	PasswdFile             string        `yaml:"passwd_file"`
	RTPDest                string        `yaml:"rtp_destination"`
	RTPAddressing          string        `yaml:"rtp_addressing"` // "unicast"|"broadcast"|"multicast"
	MulticastTTL           int           `yaml:"multicast_ttl"`
	MulticastLoopback      bool          `yaml:"multicast_loopback"`
	QueuePad               int           `yaml:"queue_pad"`
	ReplayMin              time.Duration `yaml:"-"`
	ReplayMinRaw           string        `yaml:"replay_min"`
	NewBiasAge             time.Duration `yaml:"-"`
	NewBiasAgeRaw          string        `yaml:"new_bias_age"`
	NewBias                float64       `yaml:"new_bias"`
	PlaylistLockTimeout    time.Duration `yaml:"-"`
	PlaylistLockTimeoutRaw string        `yaml:"playlist_lock_timeout"`
	CookieKeyLifetime      time.Duration `yaml:"-"`
	CookieKeyLifetimeRaw   string        `yaml:"cookie_key_lifetime"`
	CookieLoginLifetime    time.Duration `yaml:"-"`
	CookieLoginLifetimeRaw string        `yaml:"cookie_login_lifetime"`
	DefaultRights          string        `yaml:"default_rights"`
	RemoteUserman          bool          `yaml:"remote_userman"`
	AuthorizationAlgorithm string        `yaml:"authorization_algorithm"`
	ScratchJingles         []string      `yaml:"scratch_jingles"`
	Decoders               map[string]string `yaml:"decoders"` // extension -> executable
	RescanCommand          []string      `yaml:"rescan_command"`
	ReminderCommand        []string      `yaml:"reminder_command"`
	StatsCommand           []string      `yaml:"stats_command"`
	ReminderInterval       time.Duration `yaml:"-"`
	ReminderIntervalRaw    string        `yaml:"reminder_interval"`
	CookieSecretFile       string        `yaml:"cookie_secret_file"`

	// SpeakerBackend selects the mixer output sink: "rtp" (the default,
	// broadcasting over internal/rtptx), "command" (pipe PCM to
	// SpeakerCommand, e.g. "aplay -f cd -"), or "null" (discard, for
	// testing).
	SpeakerBackend string   `yaml:"speaker_backend"`
	SpeakerCommand []string `yaml:"speaker_command"`
}

// Default returns a System populated with the daemon's defaults, so a
// config file only needs to override what differs. QueuePad and ReplayMin
// match internal/queue.DefaultConfig; NewBiasAge (6h) and NewBias (0.75)
// differ from its 24h and 0.5.
func Default() System {
	return System{
		Listeners:              []string{":9999"},
		QueuePad:               10,
		ReplayMinRaw:           "8h",
		NewBiasAgeRaw:          "6h",
		NewBias:                0.75,
		PlaylistLockTimeoutRaw: "30s",
		CookieKeyLifetimeRaw:   "24h",
		CookieLoginLifetimeRaw: "720h",
		ReminderIntervalRaw:    "168h",
		DefaultRights:          "read,play",
		AuthorizationAlgorithm: "sha256",
		RTPAddressing:          "unicast",
		MulticastTTL:           1,
		SpeakerBackend:         "rtp",
	}
}

// Load reads and parses path, filling in defaults for anything the file
// omits, and resolving the *Raw duration strings.
func Load(path string) (*System, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigError("read", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.NewConfigError("parse", err)
	}
	if err := cfg.resolveDurations(); err != nil {
		return nil, errors.NewConfigError("duration", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewConfigError("validate", err)
	}
	return &cfg, nil
}

func (c *System) resolveDurations() error {
	var err error
	if c.ReplayMin, err = parseDuration(c.ReplayMinRaw, 8*time.Hour); err != nil {
		return fmt.Errorf("replay_min: %w", err)
	}
	if c.NewBiasAge, err = parseDuration(c.NewBiasAgeRaw, 6*time.Hour); err != nil {
		return fmt.Errorf("new_bias_age: %w", err)
	}
	if c.PlaylistLockTimeout, err = parseDuration(c.PlaylistLockTimeoutRaw, 30*time.Second); err != nil {
		return fmt.Errorf("playlist_lock_timeout: %w", err)
	}
	if c.CookieKeyLifetime, err = parseDuration(c.CookieKeyLifetimeRaw, 24*time.Hour); err != nil {
		return fmt.Errorf("cookie_key_lifetime: %w", err)
	}
	if c.CookieLoginLifetime, err = parseDuration(c.CookieLoginLifetimeRaw, 720*time.Hour); err != nil {
		return fmt.Errorf("cookie_login_lifetime: %w", err)
	}
	if c.ReminderInterval, err = parseDuration(c.ReminderIntervalRaw, 168*time.Hour); err != nil {
		return fmt.Errorf("reminder_interval: %w", err)
	}
	return nil
}

func parseDuration(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	return time.ParseDuration(raw)
}

// Validate rejects a config the rest of the module couldn't run with.
func (c *System) Validate() error {
	if len(c.Listeners) == 0 && c.UnixSocket == "" {
		return fmt.Errorf("at least one of listeners/unix_socket must be set")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.QueuePad < 0 {
		return fmt.Errorf("queue_pad must be >= 0")
	}
	if c.NewBias < 0 || c.NewBias > 1 {
		return fmt.Errorf("new_bias must be between 0 and 1")
	}
	switch c.RTPAddressing {
	case "unicast", "broadcast", "multicast":
	default:
		return fmt.Errorf("rtp_addressing must be unicast, broadcast, or multicast, got %q", c.RTPAddressing)
	}
	if _, err := auth.ParseRights(c.DefaultRights); err != nil {
		return fmt.Errorf("default_rights: %w", err)
	}
	switch auth.HashAlgo(c.AuthorizationAlgorithm) {
	case auth.SHA1, auth.SHA256, auth.SHA384, auth.SHA512:
	default:
		return fmt.Errorf("authorization_algorithm: unknown %q", c.AuthorizationAlgorithm)
	}
	switch c.SpeakerBackend {
	case "rtp", "command", "null":
	default:
		return fmt.Errorf("speaker_backend must be rtp, command, or null, got %q", c.SpeakerBackend)
	}
	if c.SpeakerBackend == "command" && len(c.SpeakerCommand) == 0 {
		return fmt.Errorf("speaker_command is required when speaker_backend is \"command\"")
	}
	return nil
}

// Rights parses DefaultRights, which Validate already confirmed parses
// cleanly.
func (c *System) Rights() auth.Rights {
	r, _ := auth.ParseRights(c.DefaultRights)
	return r
}
