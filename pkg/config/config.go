package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"OtcPull/internal/domain/models"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Credentials struct {
		Email    string `yaml:"email"`
		Password string `yaml:"password"`
	} `yaml:"credentials"`
	Transport           string        `yaml:"transport" default:"direct" validate:"oneof=direct browser"`
	Assets              []string      `yaml:"assets" validate:"required,min=1,dive,required"`
	Amount              float64       `yaml:"amount" default:"1" validate:"gt=0"`
	MaxConcurrent       int           `yaml:"max_concurrent" default:"2" validate:"gte=1"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold" default:"0.78" validate:"gt=0,lte=0.98"`
	OperationDuration   time.Duration `yaml:"operation_duration" default:"60s" validate:"gt=0"`
	AccountMode         string        `yaml:"account_mode" default:"practice" validate:"oneof=practice live"`
	Log                 struct {
		Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format     string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output     string `yaml:"output" default:"stdout"`
		TimeFormat string `yaml:"time_format"`
	} `yaml:"log"`
	Direct struct {
		WSURL        string        `yaml:"ws_url" default:"wss://ws.iqoption.com/echo/websocket" validate:"required,url"`
		PlaceTimeout time.Duration `yaml:"place_timeout" default:"10s"`
		ReconnectMin time.Duration `yaml:"reconnect_min" default:"1s"`
		ReconnectMax time.Duration `yaml:"reconnect_max" default:"30s"`
		PingInterval time.Duration `yaml:"ping_interval" default:"20s"`
		QueueSize    int           `yaml:"queue_size" default:"1024"`
		PayoutRate   float64       `yaml:"payout_rate" default:"0.85" validate:"gt=0,lte=1"`
		// ActiveIDs maps asset names to numeric broker ids the builtin table lacks.
		ActiveIDs map[string]int `yaml:"active_ids" validate:"dive,gt=0"`
	} `yaml:"direct"`
	Browser struct {
		BaseURL           string        `yaml:"base_url" default:"https://qxbroker.com/trade"`
		Headless          bool          `yaml:"headless" default:"true"`
		UserDataDir       string        `yaml:"user_data_dir" default:"browser_profiles"`
		ObservationWindow time.Duration `yaml:"observation_window" default:"1s"`
		SelectorTimeout   time.Duration `yaml:"selector_timeout" default:"500ms"`
		KeepaliveInterval time.Duration `yaml:"keepalive_interval" default:"240s"`
		ProfilePath       string        `yaml:"profile_path" default:"/api/v1/profile"`
		ConfirmSelector   string        `yaml:"confirm_selector"`
		ErrorSelectors    []string      `yaml:"error_selectors"`
		AcceptOnSilence   bool          `yaml:"accept_on_silence"`
	} `yaml:"browser"`
	Auth struct {
		Strategies      []string      `yaml:"strategies" default:"[\"json\",\"form\",\"cookie\"]" validate:"dive,oneof=json form cookie"`
		LoginURL        string        `yaml:"login_url" default:"https://auth.iqoption.com/api/v2/login"`
		SignInURL       string        `yaml:"sign_in_url" default:"https://qxbroker.com/en/sign-in"`
		ProfileURL      string        `yaml:"profile_url" default:"https://iqoption.com/api/getprofile"`
		LoginTimeout    time.Duration `yaml:"login_timeout" default:"15s"`
		RefreshInterval time.Duration `yaml:"refresh_interval" default:"4m"`
	} `yaml:"auth"`
	Scheduler struct {
		FireLead           time.Duration `yaml:"fire_lead" default:"100ms"`
		ResultGrace        time.Duration `yaml:"result_grace" default:"5s"`
		ResultCheckTimeout time.Duration `yaml:"result_check_timeout" default:"5s"`
		CheckResults       bool          `yaml:"check_results" default:"true"`
		ResultBuffer       int           `yaml:"result_buffer" default:"256"`
	} `yaml:"scheduler"`
	Ticks struct {
		Interval    time.Duration `yaml:"interval" default:"5s" validate:"gt=0"`
		LiveTimeout time.Duration `yaml:"live_timeout" default:"2s"`
		QueueSize   int           `yaml:"queue_size" default:"256"`
		MinInterval time.Duration `yaml:"min_interval"`
	} `yaml:"ticks"`
	Predictor struct {
		MinConfidence         float64             `yaml:"min_confidence" default:"0.78" validate:"gt=0,lte=0.98"`
		FallbackMinConfidence float64             `yaml:"fallback_min_confidence" default:"0.70" validate:"gt=0,lte=0.98"`
		Seeds                 map[string][]string `yaml:"seeds"`
	} `yaml:"predictor"`
	Journal struct {
		Path  string `yaml:"path" default:"trades.jsonl"`
		Kafka struct {
			Enabled      bool          `yaml:"enabled"`
			Brokers      []string      `yaml:"brokers"`
			Topic        string        `yaml:"topic" default:"otc.trades"`
			RequiredAcks int           `yaml:"required_acks" default:"-1"`
			Compression  string        `yaml:"compression" default:"snappy"`
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			BatchTimeout time.Duration `yaml:"batch_timeout" default:"200ms"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
			Async        bool          `yaml:"async"`
		} `yaml:"kafka"`
		ClickHouse struct {
			Enabled      bool          `yaml:"enabled"`
			Host         string        `yaml:"host" default:"localhost"`
			Port         int           `yaml:"port" default:"9000"`
			Database     string        `yaml:"database" default:"otcpull"`
			User         string        `yaml:"user" default:"default"`
			Password     string        `yaml:"password"`
			UseHTTP      bool          `yaml:"use_http"`
			AsyncInsert  bool          `yaml:"async_insert"`
			DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		} `yaml:"clickhouse"`
	} `yaml:"journal"`
	Signals struct {
		Kafka struct {
			Enabled  bool          `yaml:"enabled"`
			Brokers  []string      `yaml:"brokers"`
			Topic    string        `yaml:"topic" default:"otc.signals"`
			GroupID  string        `yaml:"group_id" default:"otcpull"`
			DLQTopic string        `yaml:"dlq_topic" default:"otc.signals.dlq"`
			Workers  int           `yaml:"workers" default:"1" validate:"gte=1"`
			MaxAge   time.Duration `yaml:"max_age" default:"30s"`
		} `yaml:"kafka"`
	} `yaml:"signals"`
	SessionCache struct {
		Backend string        `yaml:"backend" default:"memory" validate:"oneof=memory redis"`
		TTL     time.Duration `yaml:"ttl" default:"12h"`
		Redis   struct {
			Host     string `yaml:"host" default:"localhost"`
			Port     int    `yaml:"port" default:"6379"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix" default:"otcpull"`
		} `yaml:"redis"`
	} `yaml:"session_cache"`
	Server struct {
		Enabled         bool          `yaml:"enabled" default:"true"`
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		SignalLimit     int           `yaml:"signal_limit" default:"30" validate:"gte=1"`
		SignalWindow    time.Duration `yaml:"signal_window" default:"1m"`
		CORSOrigins     []string      `yaml:"cors_origins" validate:"dive,required"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w: %w", models.ErrConfig, err)
	}
	return Parse(b)
}

// Parse builds a Config from a YAML document and validates it.
func Parse(b []byte) (*Config, error) {
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment
// variables. A .env file in the working directory is read first if present.
func LoadWithEnv(path string) (*Config, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w: %w", models.ErrConfig, err)
	}
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// decode applies defaults first so the document only overrides what it names.
func decode(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w: %w", models.ErrConfig, err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w: %w", models.ErrConfig, err)
	}
	return &c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OTC_EMAIL"); v != "" {
		c.Credentials.Email = v
	}
	if v := os.Getenv("OTC_PASSWORD"); v != "" {
		c.Credentials.Password = v
	}
	if v := os.Getenv("OTC_TRANSPORT"); v != "" {
		c.Transport = v
	}
	if v := os.Getenv("OTC_ASSETS"); v != "" {
		c.Assets = splitList(v)
	}
	if v := os.Getenv("OTC_ACCOUNT_MODE"); v != "" {
		c.AccountMode = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Journal.Kafka.Brokers = splitList(v)
		c.Signals.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.SessionCache.Redis.Host = host
		if ok {
			fmt.Sscanf(port, "%d", &c.SessionCache.Redis.Port)
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate runs the tag rules and the cross-field checks.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", models.ErrConfig, err)
	}
	if c.Transport == "direct" && (c.Credentials.Email == "" || c.Credentials.Password == "") {
		return fmt.Errorf("%w: credentials are required for the direct transport", models.ErrConfig)
	}
	if c.Predictor.FallbackMinConfidence > c.Predictor.MinConfidence {
		return fmt.Errorf("%w: predictor.fallback_min_confidence must not exceed min_confidence", models.ErrConfig)
	}
	if c.Direct.ReconnectMin > c.Direct.ReconnectMax {
		return fmt.Errorf("%w: direct.reconnect_min exceeds reconnect_max", models.ErrConfig)
	}
	if c.Journal.Kafka.Enabled && len(c.Journal.Kafka.Brokers) == 0 {
		return fmt.Errorf("%w: journal.kafka.brokers cannot be empty", models.ErrConfig)
	}
	if c.Signals.Kafka.Enabled && len(c.Signals.Kafka.Brokers) == 0 {
		return fmt.Errorf("%w: signals.kafka.brokers cannot be empty", models.ErrConfig)
	}
	for asset, seed := range c.Predictor.Seeds {
		for _, d := range seed {
			if _, err := models.ParseDirection(d); err != nil {
				return fmt.Errorf("%w: predictor.seeds[%s]: %w", models.ErrConfig, asset, err)
			}
		}
	}
	return nil
}

// AccountBalanceType maps the account mode to the broker balance type.
func (c *Config) AccountBalanceType() int {
	if c.AccountMode == "live" {
		return 1
	}
	return 4
}
