package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the root configuration of ucm-sync.
type Config struct {
	ID          string          `mapstructure:"id" json:"id" yaml:"id" validate:"required"`
	LogLevel    string          `mapstructure:"log_level" json:"log_level" yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error fatal panic"`
	Concurrency int             `mapstructure:"concurrency" json:"concurrency" yaml:"concurrency" validate:"min=1,max=32"`
	Storage     Storage         `mapstructure:"storage" json:"storage" yaml:"storage"`
	Postgres    Postgres        `mapstructure:"postgres" json:"postgres" yaml:"postgres"`
	Sync        Sync            `mapstructure:"sync" json:"sync" yaml:"sync"`
	HTTP        HTTP            `mapstructure:"http" json:"http" yaml:"http"`
	Clusters    []ClusterConfig `mapstructure:"clusters" json:"clusters" yaml:"clusters" validate:"required,min=1,dive"`
}

type Storage struct {
	Driver string `mapstructure:"driver" json:"driver" yaml:"driver" validate:"oneof=postgres memory"`
}

type Postgres struct {
	Address        string `mapstructure:"address" json:"address" yaml:"address" validate:"required"`
	Port           int    `mapstructure:"port" json:"port" yaml:"port" validate:"required,min=1,max=65535"`
	Username       string `mapstructure:"username" json:"username" yaml:"username" validate:"required"`
	Password       string `mapstructure:"password" json:"-" yaml:"-" validate:"required"`
	DBName         string `mapstructure:"db_name" json:"db_name" yaml:"db_name" validate:"required"`
	SSLMode        string `mapstructure:"ssl_mode" json:"ssl_mode" yaml:"ssl_mode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	MaxConnections int    `mapstructure:"max_connections" json:"max_connections" yaml:"max_connections" validate:"min=0"`
}

type Sync struct {
	PollInterval    time.Duration `mapstructure:"poll_interval" json:"poll_interval" yaml:"poll_interval" validate:"min=10ms"`
	Interval        time.Duration `mapstructure:"interval" json:"interval" yaml:"interval" validate:"min=1m"`
	PageSize        int           `mapstructure:"page_size" json:"page_size" yaml:"page_size" validate:"min=1,max=5000"`
	UpsertChunkSize int           `mapstructure:"upsert_chunk_size" json:"upsert_chunk_size" yaml:"upsert_chunk_size" validate:"min=1,max=10000"`
	GetConcurrency  int           `mapstructure:"get_concurrency" json:"get_concurrency" yaml:"get_concurrency" validate:"min=1,max=32"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" json:"request_timeout" yaml:"request_timeout" validate:"min=1s"`
	Retry           Retry         `mapstructure:"retry" json:"retry" yaml:"retry"`
}

type Retry struct {
	MaxAttempts     uint          `mapstructure:"max_attempts" json:"max_attempts" yaml:"max_attempts" validate:"min=1,max=10"`
	InitialInterval time.Duration `mapstructure:"initial_interval" json:"initial_interval" yaml:"initial_interval" validate:"min=1ms"`
	MaxInterval     time.Duration `mapstructure:"max_interval" json:"max_interval" yaml:"max_interval" validate:"gtefield=InitialInterval"`
}

type HTTP struct {
	Address string `mapstructure:"address" json:"address" yaml:"address" validate:"required"`
}

// ClusterConfig describes one UCM cluster and the credentials used against
// its AXL endpoint. Nodes inherit the cluster credentials.
type ClusterConfig struct {
	ID            string       `mapstructure:"id" json:"id" yaml:"id" validate:"required"`
	Name          string       `mapstructure:"name" json:"name" yaml:"name" validate:"required"`
	Username      string       `mapstructure:"username" json:"username" yaml:"username"`
	Password      string       `mapstructure:"password" json:"-" yaml:"-"`
	SSHUsername   string       `mapstructure:"ssh_username" json:"ssh_username" yaml:"ssh_username"`
	SSHPassword   string       `mapstructure:"ssh_password" json:"-" yaml:"-"`
	APIVersion    string       `mapstructure:"api_version" json:"api_version" yaml:"api_version" validate:"required"`
	TLSSkipVerify bool         `mapstructure:"tls_skip_verify" json:"tls_skip_verify" yaml:"tls_skip_verify"`
	Nodes         []NodeConfig `mapstructure:"nodes" json:"nodes" yaml:"nodes" validate:"required,min=1,dive"`
}

type NodeConfig struct {
	ID   string `mapstructure:"id" json:"id" yaml:"id" validate:"required"`
	Name string `mapstructure:"name" json:"name" yaml:"name" validate:"required"`
	Host string `mapstructure:"host" json:"host" yaml:"host" validate:"required"`
	Role string `mapstructure:"role" json:"role" yaml:"role" validate:"omitempty,oneof=publisher subscriber"`
}

var (
	ErrNoConfigLoaded  = errors.New("no configuration loaded")
	ErrDuplicateTarget = errors.New("duplicate cluster or node id")
)

//nolint:mnd
func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("concurrency", 6)
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_connections", 10)
	v.SetDefault("sync.poll_interval", 2*time.Second)
	v.SetDefault("sync.interval", time.Hour)
	v.SetDefault("sync.page_size", 500)
	v.SetDefault("sync.upsert_chunk_size", 1000)
	v.SetDefault("sync.get_concurrency", 4)
	v.SetDefault("sync.request_timeout", 30*time.Second)
	v.SetDefault("sync.retry.max_attempts", 3)
	v.SetDefault("sync.retry.initial_interval", 500*time.Millisecond)
	v.SetDefault("sync.retry.max_interval", 10*time.Second)
	v.SetDefault("http.address", ":8080")
}

// NewConfig builds the configuration from the global viper instance, which
// the root command has already pointed at a file and the environment.
func NewConfig() (*Config, error) {
	return newConfigFrom(viper.GetViper())
}

// Load reads the config file configured on the global viper instance and
// returns the validated configuration.
func Load() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return NewConfig()
}

func newConfigFrom(v *viper.Viper) (*Config, error) {
	if len(v.AllKeys()) == 0 {
		return nil, ErrNoConfigLoaded
	}
	setDefaults(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if c.Storage.Driver == "memory" {
		// postgres section is ignored by the in-memory backend
		if err := validate.StructExcept(c, "Postgres"); err != nil {
			return formatValidationError(err)
		}
	} else if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}

	seen := make(map[string]bool)
	for _, cluster := range c.Clusters {
		if seen[cluster.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateTarget, cluster.ID)
		}
		seen[cluster.ID] = true
		for _, node := range cluster.Nodes {
			if seen[node.ID] {
				return fmt.Errorf("%w: %s", ErrDuplicateTarget, node.ID)
			}
			seen[node.ID] = true
		}
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		messages = append(messages,
			fmt.Sprintf("%s failed on '%s' (value: '%v')", fieldErr.Namespace(), fieldErr.Tag(), fieldErr.Value()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(messages, "; "))
}

// FindCluster returns the cluster with the given id.
func (c *Config) FindCluster(id string) (*ClusterConfig, bool) {
	for i := range c.Clusters {
		if c.Clusters[i].ID == id {
			return &c.Clusters[i], true
		}
	}
	return nil, false
}
