// Package config binds Oneiric's typed Settings tree from a YAML source,
// decoding through a loosely-typed map[string]any via mapstructure so the
// same path also binds a candidate's per-provider settings_model.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Profile selects supervisor/watcher defaults.
type Profile string

const (
	ProfileDefault    Profile = "default"
	ProfileServerless Profile = "serverless"
)

// AdapterSettings is the `adapters.*` configuration surface.
type AdapterSettings struct {
	Selections       map[string]string         `mapstructure:"selections"`
	ProviderSettings map[string]map[string]any `mapstructure:"provider_settings"`
}

// WorkflowOptions is the `workflows.options.*` configuration surface.
type WorkflowOptions struct {
	QueueCategory string `mapstructure:"queue_category"`
}

// WorkflowSettings is the `workflows.*` configuration surface.
type WorkflowSettings struct {
	Options WorkflowOptions `mapstructure:"options"`
}

// PluginSettings is the `plugins.*` configuration surface.
type PluginSettings struct {
	AutoLoad bool `mapstructure:"auto_load"`
}

// RuntimePaths is the `runtime_paths.*` configuration surface: where the
// runtime persists checkpoints, telemetry, and readiness snapshots.
type RuntimePaths struct {
	CacheRoot        string `mapstructure:"cache_root"`
	CheckpointDB     string `mapstructure:"checkpoint_db"`
	HealthJSON       string `mapstructure:"health_json"`
	TelemetryJSON    string `mapstructure:"telemetry_json"`
	RemoteStatusJSON string `mapstructure:"remote_status_json"`
}

// RemoteManifestSource is one entry of `remote.manifests`.
type RemoteManifestSource struct {
	URI             string        `mapstructure:"uri"`
	PublicKeys      []string      `mapstructure:"public_keys"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	MaxRetries      int           `mapstructure:"max_retries"`
}

// RemoteSettings is the `remote.*` configuration surface.
type RemoteSettings struct {
	Manifests []RemoteManifestSource `mapstructure:"manifests"`
}

// HTTPSettings is the `http.*` configuration surface: the bind address
// for the /health, /ready, and /metrics surface. An empty Addr disables
// the server entirely (one-shot CLI verbs never bind a port).
type HTTPSettings struct {
	Addr string `mapstructure:"addr"`
}

// Settings is the top-level typed configuration tree, bound once at
// startup and cached by pkg/runtime for the process lifetime.
type Settings struct {
	Adapters     AdapterSettings  `mapstructure:"adapters"`
	Workflows    WorkflowSettings `mapstructure:"workflows"`
	Plugins      PluginSettings   `mapstructure:"plugins"`
	Profile      Profile          `mapstructure:"profile"`
	RuntimePaths RuntimePaths     `mapstructure:"runtime_paths"`
	Remote       RemoteSettings   `mapstructure:"remote"`
	HTTP         HTTPSettings     `mapstructure:"http"`
	StackOrder   []string         `mapstructure:"stack_order"`
}

// Defaults returns a Settings populated with the values a fresh
// installation should run with.
func Defaults() *Settings {
	return &Settings{
		Profile: ProfileDefault,
		RuntimePaths: RuntimePaths{
			CacheRoot:        "./oneiric-data",
			CheckpointDB:     "./oneiric-data/workflow_checkpoints.db",
			HealthJSON:       "./oneiric-data/runtime_health.json",
			TelemetryJSON:    "./oneiric-data/runtime_telemetry.json",
			RemoteStatusJSON: "./oneiric-data/remote_status.json",
		},
	}
}

// Load reads a YAML configuration file at path, decodes it into Settings
// via mapstructure, and applies environment-variable overrides. A missing
// file is not an error; Load returns Defaults() with overrides applied.
func Load(path string) (*Settings, error) {
	settings := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := decodeYAML(data, settings); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	applyEnvOverrides(settings)
	return settings, nil
}

func decodeYAML(data []byte, settings *Settings) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	return BindSettings(raw, settings)
}

// BindSettings decodes a loosely-typed tree (as produced by yaml.Unmarshal
// into map[string]any) into target via mapstructure. This is the same
// path used for Settings itself and for a candidate's factory-specific
// settings_model, so both go through one decode implementation.
func BindSettings(raw map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		ErrorUnused:      false,
		TagName:          "mapstructure",
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}

// applyEnvOverrides honors the §6 environment variables: STACK_ORDER (a
// comma-separated ordered list of package ids) and ONEIRIC_PROFILE (when
// set, its value replaces the configured profile; "serverless" turns the
// supervisor on).
func applyEnvOverrides(settings *Settings) {
	if order := strings.TrimSpace(os.Getenv("STACK_ORDER")); order != "" {
		parts := strings.Split(order, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		settings.StackOrder = trimmed
	}

	if profile := strings.TrimSpace(os.Getenv("ONEIRIC_PROFILE")); profile != "" {
		settings.Profile = Profile(profile)
	}
}
