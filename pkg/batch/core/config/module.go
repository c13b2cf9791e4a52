package config

import "go.uber.org/fx"

// Module provides *Config from the EmbeddedConfig and optional "configPath" in the graph.
var Module = fx.Options(
	fx.Provide(NewConfigProvider),
)
