// Package config provides configuration management for Permafrost.
//
// This package handles loading, validating, and managing configuration
// from YAML files with environment variable overrides. Retention
// policies are part of the configuration and load exactly once: a
// policy change requires a process restart so it can never race an
// in-flight retention run.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("config.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("config.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention
// PERMAFROST_SECTION_FIELD. For example:
//
//   - PERMAFROST_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - PERMAFROST_STORAGE_ROOT overrides storage.root
//   - PERMAFROST_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// Environment variables always take precedence over file-based
// configuration. Policies have no environment overrides; they load
// from the file only.
//
// # Configuration Precedence
//
// Configuration values are applied in the following order (later
// overrides earlier):
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
package config
