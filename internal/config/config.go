/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

// Package config is the process-bootstrap configuration layer: the
// static settings a Nexus server needs before it can open its database
// or start accepting connections (listen address, TLS material, the
// SQLite path, per-IP limits, which channels to auto-create). This is
// distinct from the persisted, runtime-mutable config rows in
// internal/store (server name, MOTD, feature toggles), which can change
// without a restart.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the full set of process-bootstrap settings.
type Config struct {
	ListenAddress string `mapstructure:"listen_address" validate:"required"`
	CertFile      string `mapstructure:"cert_file" validate:"required"`
	KeyFile       string `mapstructure:"key_file" validate:"required"`

	DatabasePath string `mapstructure:"database_path" validate:"required"`
	FileAreaRoot string `mapstructure:"file_area_root" validate:"required"`

	TLSHandshakeTimeout      time.Duration `mapstructure:"tls_handshake_timeout" validate:"required,gt=0"`
	ProtocolHandshakeTimeout time.Duration `mapstructure:"protocol_handshake_timeout" validate:"required,gt=0"`
	ShutdownTimeout          time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	MaxConnectionsPerIP int `mapstructure:"max_connections_per_ip" validate:"required,gt=0"`
	MaxTransfersPerIP   int `mapstructure:"max_transfers_per_ip" validate:"required,gt=0"`

	GuestEnabled        bool     `mapstructure:"guest_enabled"`
	AutoJoinChannels    []string `mapstructure:"auto_join_channels"`
	PersistentChannels  []string `mapstructure:"persistent_channels"`
	UploadDeniedFolders []string `mapstructure:"upload_denied_folders"`

	LogLevel  string `mapstructure:"log_level" validate:"required,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	LogFormat string `mapstructure:"log_format" validate:"required,oneof=text json"`
}

// Default returns a Config populated with the conventional defaults for
// a standalone install, before any file or environment overrides are
// applied.
func Default() Config {
	return Config{
		ListenAddress:            ":6697",
		CertFile:                 "cert.pem",
		KeyFile:                  "key.pem",
		DatabasePath:             "nexus.db",
		FileAreaRoot:             "./files",
		TLSHandshakeTimeout:      30 * time.Second,
		ProtocolHandshakeTimeout: 30 * time.Second,
		ShutdownTimeout:          10 * time.Second,
		MaxConnectionsPerIP:      8,
		MaxTransfersPerIP:        3,
		GuestEnabled:             true,
		AutoJoinChannels:         []string{"#nexus"},
		PersistentChannels:       []string{"#nexus"},
		LogLevel:                 "info",
		LogFormat:                "text",
	}
}

// Load reads configuration from configPath (if non-empty), environment
// variables prefixed NEXUS_, and falls back to Default for anything
// unset, then validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("NEXUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %q: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("listen_address", d.ListenAddress)
	v.SetDefault("cert_file", d.CertFile)
	v.SetDefault("key_file", d.KeyFile)
	v.SetDefault("database_path", d.DatabasePath)
	v.SetDefault("file_area_root", d.FileAreaRoot)
	v.SetDefault("tls_handshake_timeout", d.TLSHandshakeTimeout)
	v.SetDefault("protocol_handshake_timeout", d.ProtocolHandshakeTimeout)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("max_connections_per_ip", d.MaxConnectionsPerIP)
	v.SetDefault("max_transfers_per_ip", d.MaxTransfersPerIP)
	v.SetDefault("guest_enabled", d.GuestEnabled)
	v.SetDefault("auto_join_channels", d.AutoJoinChannels)
	v.SetDefault("persistent_channels", d.PersistentChannels)
	v.SetDefault("upload_denied_folders", d.UploadDeniedFolders)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
}

// Validate runs struct-tag validation over cfg.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

// durationDecodeHook lets config files and environment variables express
// durations as human-readable strings ("30s", "1m") rather than raw
// nanosecond integers.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}
