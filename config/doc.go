// Package config handles loading and parsing of configuration from YAML files
// and environment variables. It defines the application configuration structure
// including server settings, realtime guard tuning, Redis and database
// connections, pipeline endpoints, and janitor schedules.
package config
