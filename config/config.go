package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"moderation-bot/registry"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the process configuration.
type Config struct {
	BotToken       string
	App            string
	Database       registry.Options
	LogChannelID   string
	LogLevel       slog.Level
	ModLogChannels map[int64]int64
	MuteRoles      map[int64]int64
}

// Load reads .env (if present), then the optional config file at path, then
// the environment. Environment values win over the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug(".env file not found, relying on environment variables", "component", "config")
	}

	v := viper.New()
	v.SetDefault("APP", "moderation")
	v.SetDefault("DB_TYPE", "sqlite")
	v.SetDefault("SQLITE_DB", "data/moderation.db")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 3306)
	v.SetDefault("LOG_LEVEL", "info")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		BotToken: v.GetString("BOT_TOKEN"),
		App:      v.GetString("APP"),
		Database: registry.Options{
			Backend:    strings.ToLower(v.GetString("DB_TYPE")),
			SQLitePath: v.GetString("SQLITE_DB"),
			Host:       v.GetString("DB_HOST"),
			Port:       v.GetInt("DB_PORT"),
			Username:   v.GetString("DB_USERNAME"),
			Password:   v.GetString("DB_PASSWORD"),
			Database:   v.GetString("DB_NAME"),
		},
		LogChannelID: v.GetString("LOG_CHANNEL_ID"),
	}
	if cfg.LogChannelID == "" {
		slog.Warn("LOG_CHANNEL_ID not set, operator alerts are disabled", "component", "config")
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("LOG_LEVEL"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	var err error
	if cfg.ModLogChannels, err = guildMap(v, "MODLOG_CHANNELS"); err != nil {
		return nil, err
	}
	if cfg.MuteRoles, err = guildMap(v, "MUTE_ROLES"); err != nil {
		return nil, err
	}
	if _, err := registry.DialectFor(cfg.Database.Backend); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings needed to connect to Discord.
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return errors.New("BOT_TOKEN is not set")
	}
	if c.App == "" {
		return errors.New("APP is empty")
	}
	return nil
}

// guildMap reads a guild-keyed id map, given either as a "guild:id,..."
// string or as a mapping in the config file.
func guildMap(v *viper.Viper, key string) (map[int64]int64, error) {
	var (
		m   map[int64]int64
		err error
	)
	if raw := v.GetString(key); raw != "" {
		m, err = ParseChannelMap(raw)
	} else {
		m, err = channelMap(v.GetStringMapString(key))
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return m, nil
}

// ParseChannelMap parses "guild:id,guild:id".
func ParseChannelMap(raw string) (map[int64]int64, error) {
	pairs := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		guild, channel, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("entry %q is not guild:id", entry)
		}
		pairs[strings.TrimSpace(guild)] = strings.TrimSpace(channel)
	}
	return channelMap(pairs)
}

func channelMap(pairs map[string]string) (map[int64]int64, error) {
	out := make(map[int64]int64, len(pairs))
	for guild, channel := range pairs {
		g, err := strconv.ParseInt(guild, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad guild id %q: %w", guild, err)
		}
		c, err := strconv.ParseInt(channel, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad channel id %q: %w", channel, err)
		}
		out[g] = c
	}
	return out, nil
}
