// Package config provides centralized configuration management for the
// StakePilot daemon, loading typed settings from a JSON file and applying
// sensible defaults. Secrets are never stored in the file itself: the
// configuration only names the environment variables that hold them.
package config
