package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	ErrConfigFileNotFound    = errors.New("could not find bot.toml in any config path")
	ErrConfigVersionMissing  = errors.New("config file is missing version field")
	ErrConfigVersionMismatch = errors.New("config file version mismatch")
	ErrMissingCredentials    = errors.New("bot token, admin user ID and group ID are all required")
)

// CurrentVersion is the expected version of the bot config file.
const CurrentVersion = 1

// DefaultUnbanDelayMS is used when unban_delay is unset or non-positive.
const DefaultUnbanDelayMS = 5000

// Config represents the entire application configuration.
type Config struct {
	// Version of the config file.
	Version    int        `koanf:"version"`
	Bot        Bot        `koanf:"bot"`
	Moderation Moderation `koanf:"moderation"`
	Storage    Storage    `koanf:"storage"`
	Debug      Debug      `koanf:"debug"`
	Loki       Loki       `koanf:"loki"`
	Messages   Messages   `koanf:"messages"`
}

// Bot contains the platform credentials and identifiers.
type Bot struct {
	// Gateway token for the bot account.
	Token string `koanf:"token"`
	// User ID of the single administrator allowed to run admin commands.
	AdminUserID string `koanf:"admin_user_id"`
	// ID of the one group the bot moderates.
	GroupID string `koanf:"group_id"`
}

// Moderation contains the admission-control toggles.
// Silent mode, test mode, welcome and announce are runtime-mutable
// through RuntimeSettings; this struct only seeds their initial values.
type Moderation struct {
	// Remove unauthorized joiners instead of only notifying the admin.
	AutoKickEnabled bool `koanf:"auto_kick_enabled"`
	// Permit automated accounts to join without an authorization check.
	AllowBots bool `koanf:"allow_bots"`
	// Greet authorized joiners in the group.
	SendWelcomeMessage bool `koanf:"send_welcome_message"`
	// Announce removals in the group.
	AnnounceKicks bool `koanf:"announce_kicks"`
	// Suppress all group-directed messages.
	SilentMode bool `koanf:"silent_mode"`
	// Also notify the admin when an authorized user joins.
	NotifyAdminOnly bool `koanf:"notify_admin_only"`
	// Delay in milliseconds before a removed user is unbanned.
	UnbanDelay int `koanf:"unban_delay"`
}

// Storage contains data file paths.
type Storage struct {
	// Path of the whitelist JSON document.
	WhitelistFile string `koanf:"whitelist_file"`
}

// Debug contains logging configuration.
type Debug struct {
	// Log level (debug, info, warn, error).
	LogLevel string `koanf:"log_level"`
	// Base directory for session log directories.
	LogDir string `koanf:"log_dir"`
	// Maximum log sessions to keep.
	MaxLogsToKeep int `koanf:"max_logs_to_keep"`
	// Maximum lines per log file.
	MaxLogLines int `koanf:"max_log_lines"`
	// Number of recent log lines kept in memory for /debug.
	RingSize int `koanf:"ring_size"`
}

// Loki contains Grafana Loki logging configuration.
type Loki struct {
	// Enable Loki integration.
	Enabled bool `koanf:"enabled"`
	// Loki server URL (without /loki/api/v1/push suffix).
	URL string `koanf:"url"`
	// Maximum number of log entries per batch.
	BatchMaxSize int `koanf:"batch_max_size"`
	// Maximum time to wait before sending a batch (in milliseconds).
	BatchMaxWaitMS int `koanf:"batch_max_wait_ms"`
	// Labels added to all log streams.
	Labels map[string]string `koanf:"labels"`
	// Basic authentication username (optional).
	Username string `koanf:"username"`
	// Basic authentication password (optional).
	Password string `koanf:"password"`
}

// Messages contains user-facing text templates. None of them carry
// behavioral weight.
type Messages struct {
	Welcome  string `koanf:"welcome"`
	Kicked   string `koanf:"kicked"`
	Added    string `koanf:"added"`
	Removed  string `koanf:"removed"`
	NotAdmin string `koanf:"not_admin"`
	Help     string `koanf:"help"`
}

// LoadConfig loads the configuration from bot.toml.
// Returns the config along with the used config directory.
func LoadConfig() (*Config, string, error) {
	k := koanf.New(".")

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get home directory: %w", err)
	}

	// List search paths
	configPaths := []string{
		".gatewarden",
		homeDir + "/.gatewarden/config",
		"/etc/gatewarden/config",
		"/app/config",
		"config",
		".",
	}

	var usedConfigPath string

	for _, path := range configPaths {
		configPath := path + "/bot.toml"
		if err := k.Load(file.Provider(configPath), toml.Parser()); err == nil {
			usedConfigPath = path
			break
		}
	}

	if usedConfigPath == "" {
		return nil, "", ErrConfigFileNotFound
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, "", fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := checkConfigVersion(config.Version); err != nil {
		return nil, "", err
	}

	if err := config.applyDefaults(); err != nil {
		return nil, "", err
	}

	return &config, usedConfigPath, nil
}

// applyDefaults fills unset fields and validates the required ones.
func (c *Config) applyDefaults() error {
	if c.Bot.Token == "" || c.Bot.AdminUserID == "" || c.Bot.GroupID == "" {
		return ErrMissingCredentials
	}

	if c.Moderation.UnbanDelay <= 0 {
		c.Moderation.UnbanDelay = DefaultUnbanDelayMS
	}

	if c.Storage.WhitelistFile == "" {
		c.Storage.WhitelistFile = "data/whitelist.json"
	}

	if c.Debug.LogLevel == "" {
		c.Debug.LogLevel = "info"
	}

	if c.Debug.LogDir == "" {
		c.Debug.LogDir = "logs/bot"
	}

	if c.Debug.MaxLogsToKeep <= 0 {
		c.Debug.MaxLogsToKeep = 10
	}

	if c.Debug.MaxLogLines <= 0 {
		c.Debug.MaxLogLines = 5000
	}

	if c.Debug.RingSize <= 0 {
		c.Debug.RingSize = 200
	}

	c.Messages.applyDefaults()

	return nil
}

func (m *Messages) applyDefaults() {
	if m.Welcome == "" {
		m.Welcome = "Welcome! You are approved to join this group."
	}

	if m.Kicked == "" {
		m.Kicked = "Access denied - group restricted to approved members only"
	}

	if m.Added == "" {
		m.Added = "User added to whitelist"
	}

	if m.Removed == "" {
		m.Removed = "User removed from whitelist"
	}

	if m.NotAdmin == "" {
		m.NotAdmin = "Only admins can use this command"
	}

	if m.Help == "" {
		m.Help = "Commands:\n" +
			"/start - Start the bot\n" +
			"/help - Show this help message\n\n" +
			"Admin commands:\n" +
			"/whitelist - Show current whitelist\n" +
			"/add @handle|user_id - Add user to whitelist (or reply to a message)\n" +
			"/remove @handle|user_id - Remove user from whitelist (or reply to a message)\n" +
			"/status - Show bot status\n" +
			"/checkpermissions - Check bot permissions\n" +
			"/silent on|off - Suppress group messages\n" +
			"/testmode on|off - Toggle lookup debug logging\n" +
			"/debug - Dump runtime diagnostics"
	}
}

// checkConfigVersion checks if the config file version is correct.
func checkConfigVersion(current int) error {
	if current == 0 {
		return fmt.Errorf("%w: bot.toml", ErrConfigVersionMissing)
	}

	if current != CurrentVersion {
		return fmt.Errorf("%w: bot.toml (got: %d, expected: %d)",
			ErrConfigVersionMismatch, current, CurrentVersion)
	}

	return nil
}
