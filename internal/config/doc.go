// Package config loads runtime configuration from multiple sources (a dotenv
// file, YAML files, environment variables, CLI flags) with precedence: CLI
// flags > Environment variables > YAML config > Defaults. The resulting Config
// is read once at startup and never reloaded.
package config
