package httpsepreload

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds everything one build needs. It is loaded from an optional
// preload.yaml, HTTPSE_* environment variables and command line flags, in
// increasing order of precedence.
type Config struct {
	Source SourceConfig `mapstructure:"source"`
	Output OutputConfig `mapstructure:"output"`

	// ExclusionsFile is a YAML map of ruleset name to the reason it is left
	// out of the build.
	ExclusionsFile string `mapstructure:"exclusions_file"`

	// MetricsFile, when set, receives build metrics in the Prometheus text
	// format.
	MetricsFile string `mapstructure:"metrics_file"`

	// Exclusions is read from ExclusionsFile. Ruleset names are case
	// sensitive, so they are not passed through viper.
	Exclusions map[string]string `mapstructure:"-"`
}

// SourceConfig describes the raw rule collection and how to trust it.
type SourceConfig struct {
	Path      string `mapstructure:"path"`
	Format    string `mapstructure:"format"`
	Signature string `mapstructure:"signature"`
	PublicKey string `mapstructure:"public_key"`

	// AllowUnsigned builds without any signature check. It must be set
	// explicitly and cannot be combined with PublicKey.
	AllowUnsigned bool `mapstructure:"allow_unsigned"`
}

// OutputConfig describes the build artifacts.
type OutputConfig struct {
	Store    string `mapstructure:"store"`
	Backend  string `mapstructure:"backend"`
	Document string `mapstructure:"document"`
}

var defaults = map[string]interface{}{
	"source.path":           "",
	"source.format":         string(FormatAuto),
	"source.signature":      "",
	"source.public_key":     "",
	"source.allow_unsigned": false,
	"output.store":          "out/httpse.leveldb",
	"output.backend":        string(BackendLevelDB),
	"output.document":       "out/httpse.json",
	"exclusions_file":       "",
	"metrics_file":          "",
}

var flagKeys = map[string]string{
	"source":          "source.path",
	"format":          "source.format",
	"signature":       "source.signature",
	"public-key":      "source.public_key",
	"allow-unsigned":  "source.allow_unsigned",
	"store":           "output.store",
	"backend":         "output.backend",
	"document":        "output.document",
	"exclusions-file": "exclusions_file",
	"metrics-file":    "metrics_file",
}

// RegisterFlags adds the build flags to fs. Flags that are not set fall back
// to the config file and environment.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("source", "", "path to the rule collection, or a directory of ruleset files")
	fs.String("format", string(FormatAuto), "input format: auto, json or xml")
	fs.String("signature", "", "path to the detached signature (default <source>.sig)")
	fs.String("public-key", "", "path to the RSA public key used to verify the source")
	fs.Bool("allow-unsigned", false, "build from an unsigned source without verification")
	fs.String("store", "out/httpse.leveldb", "path of the key-value store to create")
	fs.String("backend", string(BackendLevelDB), "store backend: leveldb or pebble")
	fs.String("document", "out/httpse.json", "path of the flat JSON document")
	fs.String("exclusions-file", "", "YAML map of ruleset names to exclude")
	fs.String("metrics-file", "", "write build metrics to this file")
}

// LoadConfig reads configuration. configFile may be empty, in which case
// preload.yaml is looked for in the working directory and configs/. fs may be
// nil.
func LoadConfig(configFile string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("preload")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, configError(fmt.Errorf("read config: %w", err))
		}
	}

	v.SetEnvPrefix("HTTPSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, configError(err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, configError(fmt.Errorf("unable to decode config: %w", err))
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate fills derived defaults and rejects unusable combinations. It also
// loads the exclusions file.
func (c *Config) validate() error {
	if c.Source.Path == "" {
		return configError(errors.New("no source configured"))
	}
	if _, err := ParseFormat(c.Source.Format); err != nil {
		return configError(err)
	}
	if _, err := ParseBackend(c.Output.Backend); err != nil {
		return configError(err)
	}
	if c.Output.Store == "" || c.Output.Document == "" {
		return configError(errors.New("output store and document paths are required"))
	}

	switch {
	case c.Source.PublicKey != "" && c.Source.AllowUnsigned:
		return configError(errors.New("allow_unsigned cannot be combined with a public key"))
	case c.Source.PublicKey == "" && !c.Source.AllowUnsigned:
		return configError(errors.New("no public key configured; set allow_unsigned to build from an unsigned source"))
	case c.Source.PublicKey != "" && c.Source.Signature == "":
		c.Source.Signature = c.Source.Path + ".sig"
	}

	if c.Exclusions == nil {
		c.Exclusions = make(map[string]string)
	}
	if c.ExclusionsFile != "" {
		fromFile, err := LoadExclusions(c.ExclusionsFile)
		if err != nil {
			return configError(err)
		}
		for name, reason := range fromFile {
			if _, ok := c.Exclusions[name]; !ok {
				c.Exclusions[name] = reason
			}
		}
	}
	return nil
}

// LoadExclusions reads a YAML map of ruleset name to reason.
func LoadExclusions(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	exclusions := make(map[string]string)
	if err := yaml.Unmarshal(b, &exclusions); err != nil {
		return nil, fmt.Errorf("%v: %w", path, err)
	}
	return exclusions, nil
}

func configError(err error) *BuildError {
	return &BuildError{Stage: StageConfig, Kind: ErrConfig, Err: err}
}
