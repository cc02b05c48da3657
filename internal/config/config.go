package config

import "time"

type Config struct {
	Service     *ServiceConfig
	Session     *SessionConfig
	Redis       *RedisConfig
	Postgres    *PostgresConfig
	Vision      *VisionConfig
	Assistant   *AssistantConfig
	Worker      *WorkerConfig
	Tracer      *TracerConfig
	Logger      *LoggerConfig
	SecretToken string
}

type ServiceConfig struct {
	Name string
	Env  string
	Addr string
}

// SessionConfig tunes the session layer. HeartbeatTimeout must exceed
// HeartbeatInterval or every session would turn suspect between probes;
// Load clamps it.
type SessionConfig struct {
	HeartbeatInterval      time.Duration
	HeartbeatTimeout       time.Duration
	MessageTimeout         time.Duration
	MaxRetries             int
	RetryBaseDelay         time.Duration
	MaxImageQueueSize      int
	ImageProcessingTimeout time.Duration
	MaxReconnectAttempts   int
	ReconnectBaseDelay     time.Duration
	PresenceTTL            time.Duration
}

type RedisConfig struct {
	URL          string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
	PingTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

type VisionConfig struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type AssistantConfig struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type WorkerConfig struct {
	ImageStream string
	ImageGroup  string
}

type TracerConfig struct {
	Address string
	Enabled bool
}

type LoggerConfig struct {
	Level  string
	Format string
}
