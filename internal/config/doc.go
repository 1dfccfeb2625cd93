// Package config loads, normalizes, and validates omniui configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the OMNIUI_API_BASE_URL override,
// optionally sourced from a .env file in the working directory. The Config
// type centralizes every knob the CLI and client packages need so the backend
// address, generation defaults, and upload limits are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// trimmed URLs, canonical log formats, and clear validation errors.
package config
