package config

import "time"

// Config represents the condamirror CLI configuration.
// Use mapstructure tags for Viper unmarshaling.
type Config struct {
	Registry RegistryConfig `mapstructure:"registry"`
	Channel  ChannelConfig  `mapstructure:"channel"`
	Cache    CacheConfig    `mapstructure:"cache"`
}

// RegistryConfig holds the default destination registry.
type RegistryConfig struct {
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
}

// ChannelConfig holds the default channel and subdirectories mirrored when
// none are given on the command line.
type ChannelConfig struct {
	Name    string   `mapstructure:"name"`
	Subdirs []string `mapstructure:"subdirs"`
}

// CacheConfig holds cache-related settings.
type CacheConfig struct {
	Dir string        `mapstructure:"dir"`
	TTL time.Duration `mapstructure:"ttl"`
}
