package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/parabatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/parabatch/pkg/batch/support/util/logger"
)

const moduleName = "config"

// EnvPrefix prefixes every environment override, e.g. PARABATCH_BATCH_CHUNK_SIZE.
const EnvPrefix = "PARABATCH_"

var durationType = reflect.TypeOf(time.Duration(0))

// Loader builds a Config from layered sources. Later layers win:
// built-in defaults, embedded YAML, the optional file at Path, then PARABATCH_* variables.
type Loader struct {
	Embedded EmbeddedConfig
	Path     string
	// EnvFile is loaded with godotenv before anything else. Empty means ".env", if present.
	EnvFile  string
	Expander EnvironmentExpander
}

// Load runs the loader with the default expander and .env lookup.
func Load(embedded EmbeddedConfig, path string) (*Config, error) {
	return (&Loader{Embedded: embedded, Path: path}).Load()
}

func (l *Loader) Load() (*Config, error) {
	l.loadEnvFile()
	expander := l.Expander
	if expander == nil {
		expander = NewOsEnvironmentExpander()
	}

	cfg := NewConfig()
	if len(l.Embedded) > 0 {
		if err := unmarshalInto(cfg, l.Embedded, expander); err != nil {
			return nil, exception.NewConfigurationError(moduleName, "failed to parse embedded config", err)
		}
	}
	if l.Path != "" {
		raw, err := os.ReadFile(l.Path)
		if err != nil {
			return nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("failed to read config file %s", l.Path), err)
		}
		if err := unmarshalInto(cfg, raw, expander); err != nil {
			return nil, exception.NewConfigurationError(moduleName, fmt.Sprintf("failed to parse config file %s", l.Path), err)
		}
	}
	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), EnvPrefix); err != nil {
		return nil, exception.NewConfigurationError(moduleName, "failed to apply environment overrides", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) loadEnvFile() {
	if l.EnvFile != "" {
		if err := godotenv.Load(l.EnvFile); err != nil {
			logger.Warnf(".env file (%s) could not be loaded: %v", l.EnvFile, err)
		}
		return
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Debugf(".env file could not be loaded: %v", err)
	}
}

func unmarshalInto(cfg *Config, raw []byte, expander EnvironmentExpander) error {
	expanded, err := expander.Expand(raw)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(expanded, cfg)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks value ranges and enumerations declared in the validate tags.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return exception.NewConfigurationError(moduleName, "invalid configuration", err)
	}
	return nil
}

// loadStructFromEnv overrides fields of val from environment variables named after the
// upper-cased yaml tag path. Maps are not overridable from the environment.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}
		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	}
	return nil
}

// Params are the fx inputs of NewConfigProvider.
type Params struct {
	fx.In
	Embedded EmbeddedConfig
	Path     string `name:"configPath" optional:"true"`
}

// NewConfigProvider loads the configuration and applies its logging section.
func NewConfigProvider(p Params) (*Config, error) {
	cfg, err := Load(p.Embedded, p.Path)
	if err != nil {
		return nil, err
	}
	logger.Configure(os.Stderr, cfg.Logging.Format, cfg.Logging.Level)
	logger.Debugf("Log level set to: %s", cfg.Logging.Level)
	return cfg, nil
}
