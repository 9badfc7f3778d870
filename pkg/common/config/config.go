package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server
	ServerPort   string        `yaml:"server_port"`
	ServerHost   string        `yaml:"server_host"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// AdminToken guards the operator endpoints; empty disables them.
	AdminToken string `yaml:"admin_token"`

	// Storage backends
	CacheBackend string `yaml:"cache_backend"` // postgres | memory
	DedupBackend string `yaml:"dedup_backend"` // redis | store

	// Database
	PostgresHost     string `yaml:"postgres_host"`
	PostgresPort     string `yaml:"postgres_port"`
	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"postgres_password"`
	PostgresDB       string `yaml:"postgres_db"`
	PostgresSSLMode  string `yaml:"postgres_sslmode"`

	// Redis
	RedisHost     string        `yaml:"redis_host"`
	RedisPort     string        `yaml:"redis_port"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	MediaClaimTTL time.Duration `yaml:"media_claim_ttl"`

	// SentMediaRetention bounds how long sent media markers are kept. Zero keeps
	// them forever. A pruned id is announced again if a feed still lists it.
	SentMediaRetention time.Duration `yaml:"sent_media_retention"`

	// Kafka
	KafkaBrokers       []string `yaml:"kafka_brokers"`
	KafkaGroupID       string   `yaml:"kafka_group_id"`
	KafkaEventsTopic   string   `yaml:"kafka_events_topic"`
	KafkaSettingsTopic string   `yaml:"kafka_settings_topic"`

	// Launch Library 2
	LL2BaseURL           string        `yaml:"ll2_base_url"`
	LL2Token             string        `yaml:"ll2_token"`
	LL2Interval          time.Duration `yaml:"ll2_interval"`
	LL2RequestsPerMinute int           `yaml:"ll2_requests_per_minute"`

	// YouTube
	YouTubeAPIKey   string        `yaml:"youtube_api_key"`
	YouTubeChannels []string      `yaml:"youtube_channels"`
	RSSInterval     time.Duration `yaml:"rss_interval"`
	RSSWindow       time.Duration `yaml:"rss_window"`

	// Discord
	DiscordToken   string `yaml:"discord_token"`
	DiscordAPIBase string `yaml:"discord_api_base"`

	// Reconciliation policy
	CalendarLookahead   time.Duration `yaml:"calendar_lookahead"`
	CalendarSlipHorizon time.Duration `yaml:"calendar_slip_horizon"`
	CalendarEpsilon     time.Duration `yaml:"calendar_epsilon"`
	MediaWindow         time.Duration `yaml:"media_window"`
	// MediaExcludedIDs are media ids never announced, such as 24/7 agency streams.
	MediaExcludedIDs    []string      `yaml:"media_excluded_ids"`
	DispatchConcurrency int           `yaml:"dispatch_concurrency"`
	NotifyStatuses      []int         `yaml:"notify_statuses"`
	TerminalStatuses    []int         `yaml:"terminal_statuses"`
	HTTPTimeout         time.Duration `yaml:"http_timeout"`
	CycleTimeout        time.Duration `yaml:"cycle_timeout"`
}

func Load() *Config {
	return &Config{
		ServerPort:   getEnv("SERVER_PORT", "8090"),
		ServerHost:   getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout: getDuration("WRITE_TIMEOUT", 30*time.Second),
		AdminToken:   getEnv("ADMIN_TOKEN", ""),

		CacheBackend: getEnv("CACHE_BACKEND", "postgres"),
		DedupBackend: getEnv("DEDUP_BACKEND", "redis"),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "livelaunch"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "livelaunch"),
		PostgresDB:       getEnv("POSTGRES_DB", "livelaunch"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		MediaClaimTTL: getDuration("MEDIA_CLAIM_TTL", 15*time.Minute),

		SentMediaRetention: getDuration("SENT_MEDIA_RETENTION", 0),

		KafkaBrokers:       getStringSliceEnv("KAFKA_BROKERS", nil),
		KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "livelaunch"),
		KafkaEventsTopic:   getEnv("KAFKA_EVENTS_TOPIC", "livelaunch.events"),
		KafkaSettingsTopic: getEnv("KAFKA_SETTINGS_TOPIC", ""),

		LL2BaseURL:           getEnv("LL2_BASE_URL", "https://ll.thespacedevs.com/2.3.0"),
		LL2Token:             getEnv("LL2_TOKEN", ""),
		LL2Interval:          getDuration("LL2_INTERVAL", 3*time.Minute),
		LL2RequestsPerMinute: getIntEnv("LL2_REQUESTS_PER_MINUTE", 10),

		YouTubeAPIKey:   getEnv("YOUTUBE_API_KEY", ""),
		YouTubeChannels: getStringSliceEnv("YOUTUBE_CHANNELS", nil),
		RSSInterval:     getDuration("RSS_INTERVAL", time.Minute),
		RSSWindow:       getDuration("RSS_WINDOW", time.Hour),

		DiscordToken:   getEnv("DISCORD_TOKEN", ""),
		DiscordAPIBase: getEnv("DISCORD_API_BASE", "https://discord.com/api/v10"),

		CalendarLookahead:   getDuration("CALENDAR_LOOKAHEAD", time.Minute),
		CalendarSlipHorizon: getDuration("CALENDAR_SLIP_HORIZON", time.Hour),
		CalendarEpsilon:     getDuration("CALENDAR_EPSILON", time.Minute),
		MediaWindow:         getDuration("MEDIA_WINDOW", time.Hour),
		MediaExcludedIDs:    getStringSliceEnv("MEDIA_EXCLUDED_IDS", nil),
		DispatchConcurrency: getIntEnv("DISPATCH_CONCURRENCY", 8),
		NotifyStatuses:      getIntSliceEnv("NOTIFY_STATUSES", []int{1, 2, 3, 4, 5, 6, 7, 8, 9}),
		TerminalStatuses:    getIntSliceEnv("TERMINAL_STATUSES", []int{3, 4, 7}),
		HTTPTimeout:         getDuration("HTTP_TIMEOUT", 15*time.Second),
		CycleTimeout:        getDuration("CYCLE_TIMEOUT", 2*time.Minute),
	}
}

// LoadFile loads the environment configuration and overlays the YAML file at
// path on top of it. Keys missing from the file keep their environment value.
func LoadFile(path string) (*Config, error) {
	cfg := Load()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.PostgresHost,
		c.PostgresUser,
		c.PostgresPassword,
		c.PostgresDB,
		c.PostgresPort,
		c.PostgresSSLMode,
	)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getIntSliceEnv(key string, defaultValue []int) []int {
	parts := getStringSliceEnv(key, nil)
	if len(parts) == 0 {
		return defaultValue
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return defaultValue
		}
		out = append(out, n)
	}
	return out
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
