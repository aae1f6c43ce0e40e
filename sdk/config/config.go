// Package config provides the public SDK configuration API.
//
// It re-exports the configuration types and helpers so external projects can
// embed the session manager without importing internal packages.
package config

import internalconfig "github.com/forgo/authcode/internal/config"

type SDKConfig = internalconfig.SDKConfig

type Config = internalconfig.Config

type ProviderConfig = internalconfig.ProviderConfig
type StorageConfig = internalconfig.StorageConfig
type BackendConfig = internalconfig.BackendConfig
type CallbackConfig = internalconfig.CallbackConfig
type LoggingConfig = internalconfig.LoggingConfig

const (
	BackendMemory   = internalconfig.BackendMemory
	BackendFile     = internalconfig.BackendFile
	BackendPostgres = internalconfig.BackendPostgres
	BackendRedis    = internalconfig.BackendRedis
	BackendObject   = internalconfig.BackendObject
)

func LoadConfig(configFile string) (*Config, error) { return internalconfig.LoadConfig(configFile) }

func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	return internalconfig.LoadConfigOptional(configFile, optional)
}
