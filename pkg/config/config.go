package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ScanTick struct {
	Name   string        `yaml:"name"`
	Symbol string        `yaml:"symbol"`
	Every  time.Duration `yaml:"every"`
}

type Config struct {
	Environment string `yaml:"environment"`
	Log         struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Redis struct {
		Host         string        `yaml:"host"`
		Port         int           `yaml:"port"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size"`
		PoolTimeout  time.Duration `yaml:"pool_timeout"`
		MinIdleConns int           `yaml:"min_idle_conns"`
	} `yaml:"redis"`
	ClickHouse struct {
		Host         string        `yaml:"host"`
		Port         int           `yaml:"port"`
		Database     string        `yaml:"database"`
		User         string        `yaml:"user"`
		Password     string        `yaml:"password"`
		UseHTTP      bool          `yaml:"use_http"`
		DialTimeout  time.Duration `yaml:"dial_timeout"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"clickhouse"`
	Kafka struct {
		Enabled     bool     `yaml:"enabled"`
		Brokers     []string `yaml:"brokers"`
		MirrorTopic string   `yaml:"mirror_topic"`
		IntakeTopic string   `yaml:"intake_topic"` // empty disables the intake consumer
		GroupID     string   `yaml:"group_id"`
		Workers     int      `yaml:"workers"`
	} `yaml:"kafka"`
	Broadcast struct {
		Channel string `yaml:"channel"`
	} `yaml:"broadcast"`
	Queue struct {
		Workers    int           `yaml:"workers"`
		RetryLimit int           `yaml:"retry_limit"`
		RetryDelay time.Duration `yaml:"retry_delay"`
	} `yaml:"queue"`
	Engine struct {
		CrashChangePct float64 `yaml:"crash_change_pct"`
		OversoldRSI    float64 `yaml:"oversold_rsi"`
		OverboughtRSI  float64 `yaml:"overbought_rsi"`
		AmbiguityLow   float64 `yaml:"ambiguity_low"`
		AmbiguityHigh  float64 `yaml:"ambiguity_high"`
	} `yaml:"engine"`
	Daemon struct {
		HeartbeatEvery        time.Duration `yaml:"heartbeat_every"`
		ScanTicks             []ScanTick    `yaml:"scan_ticks"`
		EscalationProbability float64       `yaml:"escalation_probability"`
		EscalationBurst       float64       `yaml:"escalation_burst"`
		EscalationPerMinute   float64       `yaml:"escalation_per_minute"`
	} `yaml:"daemon"`
	Analyzer struct {
		Mode        string        `yaml:"mode"` // mock or http
		Endpoint    string        `yaml:"endpoint"`
		Model       string        `yaml:"model"`
		APIKey      string        `yaml:"api_key"`
		Timeout     time.Duration `yaml:"timeout"`
		MockLatency time.Duration `yaml:"mock_latency"`
		CacheTTL    time.Duration `yaml:"cache_ttl"`
	} `yaml:"analyzer"`
	Gateway struct {
		HistoryCap       int           `yaml:"history_cap"`
		InitEvents       int           `yaml:"init_events"`
		HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	} `yaml:"gateway"`
	Client struct {
		HistoryCap int           `yaml:"history_cap"`
		StaleAfter time.Duration `yaml:"stale_after"`
	} `yaml:"client"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		host, port := splitHostPort(v, c.Redis.Port)
		c.Redis.Host = host
		c.Redis.Port = port
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("ANALYZER_API_KEY"); v != "" {
		c.Analyzer.APIKey = v
	}
	if v := os.Getenv("ANALYZER_ENDPOINT"); v != "" {
		c.Analyzer.Endpoint = v
		c.Analyzer.Mode = "http"
	}

	return c, nil
}

// applyDefaults fills the documented defaults for everything the YAML omits:
// 10% crash move, RSI 30/70, 45-55 ambiguity band, 15s heartbeat windows,
// 100/50 history caps, 5s/10s/30s schedules.
func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8090
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.ClickHouse.Database == "" {
		c.ClickHouse.Database = "spirit"
	}
	if c.Broadcast.Channel == "" {
		c.Broadcast.Channel = "spirit:events"
	}
	if c.Queue.Workers == 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.RetryLimit == 0 {
		c.Queue.RetryLimit = 3
	}
	if c.Queue.RetryDelay == 0 {
		c.Queue.RetryDelay = 10 * time.Second
	}
	if c.Engine.CrashChangePct == 0 {
		c.Engine.CrashChangePct = 10
	}
	if c.Engine.OversoldRSI == 0 {
		c.Engine.OversoldRSI = 30
	}
	if c.Engine.OverboughtRSI == 0 {
		c.Engine.OverboughtRSI = 70
	}
	if c.Engine.AmbiguityLow == 0 {
		c.Engine.AmbiguityLow = 45
	}
	if c.Engine.AmbiguityHigh == 0 {
		c.Engine.AmbiguityHigh = 55
	}
	if c.Daemon.HeartbeatEvery == 0 {
		c.Daemon.HeartbeatEvery = 5 * time.Second
	}
	if len(c.Daemon.ScanTicks) == 0 {
		c.Daemon.ScanTicks = []ScanTick{
			{Name: "scan-fast", Symbol: "BTC/USDT", Every: 10 * time.Second},
			{Name: "scan-slow", Symbol: "ETH/USDT", Every: 30 * time.Second},
		}
	}
	if c.Daemon.EscalationProbability == 0 {
		c.Daemon.EscalationProbability = 0.3
	}
	if c.Daemon.EscalationBurst == 0 {
		c.Daemon.EscalationBurst = 3
	}
	if c.Daemon.EscalationPerMinute == 0 {
		c.Daemon.EscalationPerMinute = 6
	}
	if c.Analyzer.Mode == "" {
		c.Analyzer.Mode = "mock"
	}
	if c.Analyzer.Timeout == 0 {
		c.Analyzer.Timeout = 10 * time.Second
	}
	if c.Analyzer.MockLatency == 0 {
		c.Analyzer.MockLatency = 2 * time.Second
	}
	if c.Analyzer.CacheTTL == 0 {
		c.Analyzer.CacheTTL = time.Minute
	}
	if c.Gateway.HistoryCap == 0 {
		c.Gateway.HistoryCap = 100
	}
	if c.Gateway.InitEvents == 0 {
		c.Gateway.InitEvents = 10
	}
	if c.Gateway.HeartbeatTimeout == 0 {
		c.Gateway.HeartbeatTimeout = 15 * time.Second
	}
	if c.Client.HistoryCap == 0 {
		c.Client.HistoryCap = 50
	}
	if c.Client.StaleAfter == 0 {
		c.Client.StaleAfter = 15 * time.Second
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Analyzer.Mode != "mock" && c.Analyzer.Mode != "http" {
		return fmt.Errorf("analyzer.mode must be 'mock' or 'http', got '%s'", c.Analyzer.Mode)
	}
	if c.Analyzer.Mode == "http" && c.Analyzer.Endpoint == "" {
		return fmt.Errorf("analyzer.endpoint is required in http mode")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Engine.AmbiguityLow >= c.Engine.AmbiguityHigh {
		return fmt.Errorf("engine.ambiguity_low must be below engine.ambiguity_high")
	}
	if c.Engine.OversoldRSI >= c.Engine.OverboughtRSI {
		return fmt.Errorf("engine.oversold_rsi must be below engine.overbought_rsi")
	}
	if c.Daemon.EscalationProbability < 0 || c.Daemon.EscalationProbability > 1 {
		return fmt.Errorf("daemon.escalation_probability must be in [0,1]")
	}
	for _, tick := range c.Daemon.ScanTicks {
		if tick.Name == "" || tick.Symbol == "" {
			return fmt.Errorf("daemon.scan_ticks entries need name and symbol")
		}
		if tick.Every <= 0 {
			return fmt.Errorf("daemon.scan_ticks[%s].every must be positive", tick.Name)
		}
	}
	return nil
}

func splitHostPort(addr string, defPort int) (string, int) {
	host := addr
	port := defPort
	if i := strings.LastIndex(addr, ":"); i > 0 {
		host = addr[:i]
		if p := addr[i+1:]; p != "" {
			if _, err := fmt.Sscanf(p, "%d", &port); err != nil {
				port = defPort
			}
		}
	}
	return host, port
}
