package configs

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/rl1809/order-core/internal/adapter/broker"
)

const envPrefix = "ORDERCORE_"

type Config struct {
	App struct {
		Name string `koanf:"name"`
		Env  string `koanf:"env"`
	} `koanf:"app"`

	HTTP struct {
		Addr           string        `koanf:"addr"`
		ReadTimeout    time.Duration `koanf:"read_timeout"`
		WriteTimeout   time.Duration `koanf:"write_timeout"`
		IdleTimeout    time.Duration `koanf:"idle_timeout"`
		RequestTimeout time.Duration `koanf:"request_timeout"`
	} `koanf:"http"`

	GRPC struct {
		Addr           string        `koanf:"addr"`
		HealthInterval time.Duration `koanf:"health_interval"`
	} `koanf:"grpc"`

	Database struct {
		Dialect         string        `koanf:"dialect"` // mysql | sqlite
		DSN             string        `koanf:"dsn"`
		MaxOpenConns    int           `koanf:"max_open_conns"`
		MaxIdleConns    int           `koanf:"max_idle_conns"`
		ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
		Migrate         bool          `koanf:"migrate"`
	} `koanf:"database"`

	Redis struct {
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
		DB       int    `koanf:"db"`
		PoolSize int    `koanf:"pool_size"`
	} `koanf:"redis"`

	Broker struct {
		Kind    string          `koanf:"kind"` // rabbitmq | kafka | local
		DialFor time.Duration   `koanf:"dial_for"`
		Routes  []RouteOverride `koanf:"routes"`
	} `koanf:"broker"`

	Rabbit struct {
		URL      string `koanf:"url"`
		Prefetch int    `koanf:"prefetch"`
	} `koanf:"rabbitmq"`

	Kafka struct {
		Brokers []string `koanf:"brokers"`
		GroupID string   `koanf:"group_id"`
	} `koanf:"kafka"`

	Outbox struct {
		PollInterval time.Duration `koanf:"poll_interval"`
		BatchSize    int           `koanf:"batch_size"`
		AlertAfter   int           `koanf:"alert_after"`
		BaseBackoff  time.Duration `koanf:"base_backoff"`
		MaxBackoff   time.Duration `koanf:"max_backoff"`
		PublishTries uint          `koanf:"publish_tries"`
	} `koanf:"outbox"`

	Inventory struct {
		ReservationTTL time.Duration `koanf:"reservation_ttl"`
		ReaperSchedule string        `koanf:"reaper_schedule"`
		ReaperBatch    int           `koanf:"reaper_batch"`
	} `koanf:"inventory"`

	Cart struct {
		AbandonAfter  time.Duration `koanf:"abandon_after"`
		SweepSchedule string        `koanf:"sweep_schedule"`
		SweepBatch    int           `koanf:"sweep_batch"`
	} `koanf:"cart"`

	OrderNumber struct {
		Source string `koanf:"source"` // redis | sql
	} `koanf:"order_number"`

	Security struct {
		JWTSecret string `koanf:"jwt_secret"`
		Issuer    string `koanf:"issuer"`
		Audience  string `koanf:"audience"`
	} `koanf:"security"`

	Log struct {
		Level string `koanf:"level"`
		File  string `koanf:"file"`
	} `koanf:"log"`
}

// RouteOverride replaces parts of the default route for Event. Event types
// contain dots, so overrides are a list rather than a map keyed by event.
type RouteOverride struct {
	Event      string `koanf:"event"`
	Exchange   string `koanf:"exchange"`
	RoutingKey string `koanf:"routing_key"`
	Queue      string `koanf:"queue"`
}

// Routes applies the configured overrides to the default route table.
func (c Config) Routes() broker.Routes {
	overrides := make(map[string]broker.Route, len(c.Broker.Routes))
	for _, o := range c.Broker.Routes {
		overrides[o.Event] = broker.Route{Exchange: o.Exchange, RoutingKey: o.RoutingKey, Queue: o.Queue}
	}
	return broker.DefaultRoutes().WithOverrides(overrides)
}

// Load layers {dir}/base.yaml, the optional {dir}/{envName}.yaml and
// ORDERCORE_ environment variables, e.g. ORDERCORE_DATABASE__DSN.
func Load(dir, envName string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(fmt.Sprintf("%s/base.yaml", dir)), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("load base: %w", err)
	}

	overlay := fmt.Sprintf("%s/%s.yaml", dir, envName)
	if _, err := os.Stat(overlay); err == nil {
		if err := k.Load(file.Provider(overlay), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", overlay, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	if cfg.App.Env == "" {
		cfg.App.Env = envName
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr required"))
	}
	switch c.Database.Dialect {
	case "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.dialect %q must be mysql or sqlite", c.Database.Dialect))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn required"))
	}
	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr required"))
	}

	switch c.Broker.Kind {
	case "rabbitmq":
		if c.Rabbit.URL == "" {
			errs = append(errs, errors.New("rabbitmq.url required for broker.kind=rabbitmq"))
		}
	case "kafka":
		if len(c.Kafka.Brokers) == 0 || c.Kafka.GroupID == "" {
			errs = append(errs, errors.New("kafka.brokers and kafka.group_id required for broker.kind=kafka"))
		}
	case "local":
		// In-process delivery skips the broker entirely.
		if c.App.Env != "dev" && c.App.Env != "test" {
			errs = append(errs, fmt.Errorf("broker.kind=local is only allowed in dev or test, not %q", c.App.Env))
		}
	default:
		errs = append(errs, fmt.Errorf("broker.kind %q must be rabbitmq, kafka or local", c.Broker.Kind))
	}

	switch c.OrderNumber.Source {
	case "redis", "sql":
	default:
		errs = append(errs, fmt.Errorf("order_number.source %q must be redis or sql", c.OrderNumber.Source))
	}

	if c.Inventory.ReservationTTL <= 0 {
		errs = append(errs, errors.New("inventory.reservation_ttl must be positive"))
	}
	if c.Cart.AbandonAfter <= 0 {
		errs = append(errs, errors.New("cart.abandon_after must be positive"))
	}
	for i, o := range c.Broker.Routes {
		if o.Event == "" {
			errs = append(errs, fmt.Errorf("broker.routes[%d].event required", i))
		}
	}
	if c.Security.JWTSecret == "" || c.Security.Issuer == "" || c.Security.Audience == "" {
		errs = append(errs, errors.New("security.jwt_secret, issuer and audience required"))
	}
	return errors.Join(errs...)
}
