package main

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/bi0dread/filterql"
)

// FileConfig is the YAML (or JSON/TOML) file describing filterable resources.
type FileConfig struct {
	LogLevel     string                    `mapstructure:"log_level"`
	CursorSecret string                    `mapstructure:"cursor_secret"`
	Database     string                    `mapstructure:"database"`
	Resources    map[string]ResourceConfig `mapstructure:"resources"`
}

type ResourceConfig struct {
	Table        string        `mapstructure:"table"`
	Dialect      string        `mapstructure:"dialect"`
	StringMode   string        `mapstructure:"string_mode"`
	Naming       string        `mapstructure:"naming"`
	MaxDepth     int           `mapstructure:"max_depth"`
	MaxNodes     int           `mapstructure:"max_nodes"`
	SortKeys     []string      `mapstructure:"sort_keys"`
	DefaultSort  string        `mapstructure:"default_sort"`
	IDField      string        `mapstructure:"id_field"`
	MinLimit     int           `mapstructure:"min_limit"`
	MaxLimit     int           `mapstructure:"max_limit"`
	DefaultLimit int           `mapstructure:"default_limit"`
	LimitPolicy  string        `mapstructure:"limit_policy"`
	Fields       []FieldConfig `mapstructure:"fields"`
}

type FieldConfig struct {
	Name     string          `mapstructure:"name"`
	Type     string          `mapstructure:"type"`
	Ops      []string        `mapstructure:"ops"`
	Column   string          `mapstructure:"column"`
	Enum     []string        `mapstructure:"enum"`
	Relation *RelationConfig `mapstructure:"relation"`
}

type RelationConfig struct {
	Target     string        `mapstructure:"target"`
	ForeignKey string        `mapstructure:"foreign_key"`
	LocalKey   string        `mapstructure:"local_key"`
	Key        string        `mapstructure:"key"`
	Fields     []FieldConfig `mapstructure:"fields"`
}

// loadConfig reads path and overlays FILTERQL_* environment variables, e.g.
// FILTERQL_CURSOR_SECRET or FILTERQL_LOG_LEVEL.
func loadConfig(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("FILTERQL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("log_level", "info")
	v.SetDefault("cursor_secret", "")
	v.SetDefault("database", "")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg FileConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func (c *FileConfig) resource(name string) (ResourceConfig, error) {
	rc, ok := c.Resources[name]
	if !ok {
		known := make([]string, 0, len(c.Resources))
		for k := range c.Resources {
			known = append(known, k)
		}
		return ResourceConfig{}, fmt.Errorf("unknown resource %q (configured: %s)", name, strings.Join(known, ", "))
	}
	if rc.Table == "" {
		rc.Table = name
	}
	return rc, nil
}

func (rc ResourceConfig) registry() (*filterql.Registry, error) {
	fields, err := fieldSpecs(rc.Fields)
	if err != nil {
		return nil, err
	}
	var opts []filterql.RegistryOption
	switch strings.ToLower(rc.Naming) {
	case "", "snake_case":
	case "no_change", "none":
		opts = append(opts, filterql.WithNamingStrategy(filterql.NAMING_STRATEGY_NO_CHANGE))
	default:
		return nil, fmt.Errorf("unknown naming strategy %q", rc.Naming)
	}
	return filterql.NewRegistry(fields, opts...)
}

func fieldSpecs(in []FieldConfig) ([]filterql.FieldSpec, error) {
	out := make([]filterql.FieldSpec, 0, len(in))
	for _, fc := range in {
		var typ filterql.FieldType
		if fc.Relation == nil || fc.Type != "" {
			t, err := filterql.ParseFieldType(fc.Type)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", fc.Name, err)
			}
			typ = t
		}
		spec := filterql.FieldSpec{Name: fc.Name, Type: typ, Column: fc.Column, Enum: fc.Enum}
		for _, op := range fc.Ops {
			spec.Ops = append(spec.Ops, filterql.Operator(strings.ToLower(op)))
		}
		if fc.Relation != nil {
			nested, err := fieldSpecs(fc.Relation.Fields)
			if err != nil {
				return nil, fmt.Errorf("relation %q: %w", fc.Name, err)
			}
			spec.Relation = &filterql.Relation{
				Target:     fc.Relation.Target,
				ForeignKey: fc.Relation.ForeignKey,
				LocalKey:   fc.Relation.LocalKey,
				Key:        fc.Relation.Key,
				Fields:     nested,
			}
		}
		out = append(out, spec)
	}
	return out, nil
}

func (rc ResourceConfig) queryConfig(secret string) (filterql.Config, error) {
	dialect, err := filterql.ParseDialect(rc.Dialect)
	if err != nil {
		return filterql.Config{}, err
	}
	mode, err := filterql.ParseStringMode(rc.StringMode)
	if err != nil {
		return filterql.Config{}, err
	}
	policy, err := filterql.ParseLimitPolicy(rc.LimitPolicy)
	if err != nil {
		return filterql.Config{}, err
	}
	return filterql.Config{
		Dialect:      dialect,
		StringMode:   mode,
		MaxDepth:     rc.MaxDepth,
		MaxNodes:     rc.MaxNodes,
		SortKeys:     rc.SortKeys,
		DefaultSort:  rc.DefaultSort,
		IDField:      rc.IDField,
		MinLimit:     rc.MinLimit,
		MaxLimit:     rc.MaxLimit,
		DefaultLimit: rc.DefaultLimit,
		LimitPolicy:  policy,
		Cursor:       filterql.NewCursorCodec([]byte(secret)),
	}, nil
}
