package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Logging struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		Output     string `yaml:"output"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"logging"`
	Gamma struct {
		BaseURL        string        `yaml:"base_url"`
		WebSocketURL   string        `yaml:"websocket_url"`
		APIKey         string        `yaml:"api_key"`
		Timeout        time.Duration `yaml:"timeout"`
		RetryAttempts  int           `yaml:"retry_attempts"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
		PingInterval   time.Duration `yaml:"ping_interval"`
	} `yaml:"gamma"`
	Markets struct {
		IDs             []string      `yaml:"ids"`
		Discover        bool          `yaml:"discover"`
		DiscoverLimit   int           `yaml:"discover_limit"`
		RefreshInterval time.Duration `yaml:"refresh_interval"`
		Timeframe       string        `yaml:"timeframe"`
		Lookback        int           `yaml:"lookback"`
	} `yaml:"markets"`
	RateLimit struct {
		RPS       float64 `yaml:"rps"`
		Burst     int     `yaml:"burst"`
		Endpoints map[string]struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"endpoints"`
	} `yaml:"rate_limit"`
	Jobs struct {
		CollectInterval    time.Duration `yaml:"collect_interval"`
		CycleInterval      time.Duration `yaml:"cycle_interval"`
		MarkInterval       time.Duration `yaml:"mark_interval"`
		LearnInterval      time.Duration `yaml:"learn_interval"`
		ReestimateInterval time.Duration `yaml:"reestimate_interval"`
		DrainTimeout       time.Duration `yaml:"drain_timeout"`
	} `yaml:"jobs"`
	Signals struct {
		TTL         time.Duration      `yaml:"ttl"`
		NeutralBand float64            `yaml:"neutral_band"`
		Enabled     map[string]bool    `yaml:"enabled"`
		Weights     map[string]float64 `yaml:"weights"`
	} `yaml:"signals"`
	Regime struct {
		HistoryWindow  int `yaml:"history_window"`
		ReestimateMin  int `yaml:"reestimate_min"`
		ObservationCap int `yaml:"observation_cap"`
		// Parameters replaces the built-in policy for the named regimes.
		// An entry overrides the whole policy, not single fields.
		Parameters map[string]struct {
			SizeMultiplier   float64  `yaml:"size_multiplier"`
			MinConfidence    float64  `yaml:"min_confidence"`
			MinStrength      float64  `yaml:"min_strength"`
			PreferredSignals []string `yaml:"preferred_signals"`
			AvoidedSignals   []string `yaml:"avoided_signals"`
			StopLossMult     float64  `yaml:"stop_loss_mult"`
			TakeProfitMult   float64  `yaml:"take_profit_mult"`
		} `yaml:"parameters"`
	} `yaml:"regime"`
	Replay struct {
		Capacity     int     `yaml:"capacity"`
		Prioritized  bool    `yaml:"prioritized"`
		Alpha        float64 `yaml:"alpha"`
		Beta         float64 `yaml:"beta"`
		Epsilon      float64 `yaml:"epsilon"`
		BatchSize    int     `yaml:"batch_size"`
		LearningRate float64 `yaml:"learning_rate"`
	} `yaml:"replay"`
	Risk struct {
		MaxPositionSize  float64 `yaml:"max_position_size"`
		MaxOpenPositions int     `yaml:"max_open_positions"`
		MaxExposure      float64 `yaml:"max_exposure"`
		Breaker          struct {
			ConsecutiveLosses int           `yaml:"consecutive_losses"`
			DrawdownPct       float64       `yaml:"drawdown_pct"`
			Cooldown          time.Duration `yaml:"cooldown"`
			ProbeTrades       int           `yaml:"probe_trades"`
			ProbeSizeFactor   float64       `yaml:"probe_size_factor"`
			Window            int           `yaml:"window"`
		} `yaml:"breaker"`
	} `yaml:"risk"`
	Paper struct {
		InitialCapital float64 `yaml:"initial_capital"`
		FeeRate        float64 `yaml:"fee_rate"`
		OrderNotional  float64 `yaml:"order_notional"`
	} `yaml:"paper"`
	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`
	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		CacheTTL time.Duration `yaml:"cache_ttl"`
	} `yaml:"redis"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Topics       struct {
			Fills   string `yaml:"fills"`
			Signals string `yaml:"signals"`
			Logs    string `yaml:"logs"`
			Trades  string `yaml:"trades"`
		} `yaml:"topics"`
		Producer struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			Enabled     bool          `yaml:"enabled"`
			GroupID     string        `yaml:"group_id"`
			StartOffset string        `yaml:"start_offset"`
			Workers     int           `yaml:"workers"`
			BufferSize  int           `yaml:"buffer_size"`
			RetryMax    int           `yaml:"retry_max"`
			BackoffMin  time.Duration `yaml:"backoff_min"`
			BackoffMax  time.Duration `yaml:"backoff_max"`
			DLQTopic    string        `yaml:"dlq_topic"`
			MinBytes    int           `yaml:"min_bytes"`
			MaxBytes    int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
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

	// Validate required fields
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

	// Override with environment variables
	if v := os.Getenv("GAMMA_API_KEY"); v != "" {
		c.Gamma.APIKey = v
	}
	if v := os.Getenv("MARKETS"); v != "" {
		c.Markets.IDs = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.SQLite.Path = v
	}

	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if len(c.Markets.IDs) == 0 && !c.Markets.Discover {
		return fmt.Errorf("markets.ids cannot be empty unless markets.discover is set")
	}
	if c.Gamma.BaseURL == "" {
		return fmt.Errorf("gamma.base_url is required")
	}
	if c.SQLite.Path == "" {
		return fmt.Errorf("sqlite.path is required")
	}
	if c.Paper.InitialCapital <= 0 {
		return fmt.Errorf("paper.initial_capital must be positive, got %v", c.Paper.InitialCapital)
	}
	if c.Paper.FeeRate < 0 || c.Paper.FeeRate > 0.1 {
		return fmt.Errorf("paper.fee_rate must be in [0, 0.1], got %v", c.Paper.FeeRate)
	}
	if c.Paper.OrderNotional <= 0 {
		return fmt.Errorf("paper.order_notional must be positive, got %v", c.Paper.OrderNotional)
	}
	if c.Replay.Capacity <= 0 {
		return fmt.Errorf("replay.capacity must be positive, got %d", c.Replay.Capacity)
	}
	if c.Replay.Alpha < 0 || c.Replay.Beta < 0 || c.Replay.Beta > 1 {
		return fmt.Errorf("replay.alpha must be >= 0 and replay.beta in [0, 1]")
	}
	if c.Signals.NeutralBand < 0 || c.Signals.NeutralBand >= 1 {
		return fmt.Errorf("signals.neutral_band must be in [0, 1), got %v", c.Signals.NeutralBand)
	}
	for name, p := range c.Regime.Parameters {
		if p.SizeMultiplier < 0 {
			return fmt.Errorf("regime.parameters.%s.size_multiplier must be >= 0, got %v", name, p.SizeMultiplier)
		}
		if p.MinConfidence < 0 || p.MinConfidence > 1 || p.MinStrength < 0 || p.MinStrength > 1 {
			return fmt.Errorf("regime.parameters.%s thresholds must be in [0, 1]", name)
		}
	}
	if c.Risk.Breaker.ConsecutiveLosses <= 0 {
		return fmt.Errorf("risk.breaker.consecutive_losses must be positive")
	}
	if c.Risk.Breaker.DrawdownPct <= 0 || c.Risk.Breaker.DrawdownPct >= 1 {
		return fmt.Errorf("risk.breaker.drawdown_pct must be in (0, 1), got %v", c.Risk.Breaker.DrawdownPct)
	}
	if c.Risk.MaxExposure <= 0 || c.Risk.MaxExposure > 1 {
		return fmt.Errorf("risk.max_exposure must be in (0, 1], got %v", c.Risk.MaxExposure)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	switch c.Kafka.Consumer.StartOffset {
	case "", "earliest", "latest":
	default:
		return fmt.Errorf("kafka.consumer.start_offset must be earliest or latest, got %q", c.Kafka.Consumer.StartOffset)
	}
	return nil
}
