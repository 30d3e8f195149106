// Package config loads, normalizes, and validates docflow configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// DOCFLOW_DATA_DIR. The Config type centralizes every knob the daemon and CLI
// need: where the task and job databases live, how many workers each queue
// runs, how many autofix rounds a verify task may take, and how long a
// dispatched task may run before the sweeper fails it.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
