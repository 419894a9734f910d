// Package config loads, normalizes and validates retrace configuration.
//
// It supplies defaults, expands user paths (including tilde shortcuts),
// reads TOML files and lets RETRACE_CAPTURE_PASSWORD override the capture
// password. Always obtain settings through this package so downstream code
// receives absolute paths and clear validation errors.
package config
