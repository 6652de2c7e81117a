package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/flynnfc/helenus/pkg/helenus/marshal"
	"github.com/flynnfc/helenus/pkg/helenus/wire"
)

type Config struct {
	Server struct {
		Address        string `mapstructure:"address"`
		MetricsAddress string `mapstructure:"metrics_address"`
		Tracing        bool   `mapstructure:"tracing"`
	} `mapstructure:"server"`

	Log struct {
		Name    string `mapstructure:"name"`
		Dir     string `mapstructure:"dir"`
		Level   string `mapstructure:"level"`
		Console bool   `mapstructure:"console"`
	} `mapstructure:"log"`

	Clock struct {
		NTPServer    string        `mapstructure:"ntp_server"`
		SyncInterval time.Duration `mapstructure:"sync_interval"`
	} `mapstructure:"clock"`

	Store struct {
		Keyspace      string  `mapstructure:"keyspace"`
		WALDir        string  `mapstructure:"wal_dir"`
		ExpectedRows  uint    `mapstructure:"expected_rows"`
		FalsePositive float64 `mapstructure:"false_positive"`
	} `mapstructure:"store"`

	ColumnFamilies []ColumnFamily `mapstructure:"column_families"`
}

type ColumnFamily struct {
	Name             string   `mapstructure:"name"`
	Type             string   `mapstructure:"type"`
	Comparator       string   `mapstructure:"comparator"`
	Subcomparator    string   `mapstructure:"subcomparator"`
	KeyValidator     string   `mapstructure:"key_validator"`
	DefaultValidator string   `mapstructure:"default_validator"`
	Columns          []Column `mapstructure:"columns"`
}

type Column struct {
	Name      string `mapstructure:"name"`
	Validator string `mapstructure:"validator"`
	Index     bool   `mapstructure:"index"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "127.0.0.1:9160")
	v.SetDefault("server.metrics_address", "127.0.0.1:9161")
	v.SetDefault("log.name", "helenus")
	v.SetDefault("log.dir", "logs")
	v.SetDefault("log.level", "info")
	v.SetDefault("clock.ntp_server", "time.google.com")
	v.SetDefault("clock.sync_interval", 30*time.Second)
	v.SetDefault("store.keyspace", "helenus")
	v.SetDefault("store.expected_rows", 100_000)
	v.SetDefault("store.false_positive", 0.01)
}

// LoadConfig reads the YAML file at path. Any key can be overridden from the
// environment, e.g. HELENUS_SERVER_ADDRESS.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("helenus")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Store.Keyspace == "" {
		return fmt.Errorf("store.keyspace must be set")
	}
	if c.Store.FalsePositive <= 0 || c.Store.FalsePositive >= 1 {
		return fmt.Errorf("store.false_positive must be in (0, 1), got %v", c.Store.FalsePositive)
	}
	seen := make(map[string]bool, len(c.ColumnFamilies))
	for _, cf := range c.ColumnFamilies {
		if cf.Name == "" {
			return fmt.Errorf("column family without a name")
		}
		if seen[cf.Name] {
			return fmt.Errorf("column family %s is defined twice", cf.Name)
		}
		seen[cf.Name] = true
	}
	return nil
}

// Definitions converts the configured column families to schema definitions.
func (c *Config) Definitions() ([]wire.CfDef, error) {
	defs := make([]wire.CfDef, 0, len(c.ColumnFamilies))
	for _, cf := range c.ColumnFamilies {
		def, err := cf.Definition(c.Store.Keyspace)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Definition builds the schema of one family. Column names are encoded with
// the family comparator, so "42" names a LongType column as the integer 42.
func (cf ColumnFamily) Definition(keyspace string) (wire.CfDef, error) {
	def := wire.CfDef{
		Keyspace:               keyspace,
		Name:                   cf.Name,
		ColumnType:             "Standard",
		ComparatorType:         or(cf.Comparator, "BytesType"),
		DefaultValidationClass: or(cf.DefaultValidator, "BytesType"),
		KeyValidationClass:     or(cf.KeyValidator, "BytesType"),
	}
	switch strings.ToLower(cf.Type) {
	case "", "standard":
	case "super":
		def.ColumnType = "Super"
		def.SubcomparatorType = or(cf.Subcomparator, "BytesType")
	default:
		return def, fmt.Errorf("column family %s: unknown type %q", cf.Name, cf.Type)
	}

	comparator, err := marshal.Parse(def.ComparatorType)
	if err != nil {
		return def, fmt.Errorf("column family %s: %w", cf.Name, err)
	}
	for _, col := range cf.Columns {
		name, err := comparator.Serialize(col.Name)
		if err != nil {
			return def, fmt.Errorf("column family %s: column %q: %w", cf.Name, col.Name, err)
		}
		cd := wire.ColumnDef{Name: name, ValidationClass: or(col.Validator, def.DefaultValidationClass)}
		if col.Index {
			cd.IndexType = "KEYS"
			cd.IndexName = cf.Name + "_" + col.Name + "_idx"
		}
		def.ColumnMetadata = append(def.ColumnMetadata, cd)
	}
	return def, nil
}

func or(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
