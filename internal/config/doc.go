// Package config loads, normalizes, and validates Geass configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// GEASS_API_TOKEN, RATE_LIMIT, and MAX_JOB_AGE. A .env file in the working
// directory is read first without overriding the real environment.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
