// Package config loads, validates, and normalizes quill's TOML configuration.
package config
