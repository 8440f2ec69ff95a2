// Package config loads, normalizes, and validates mediaflow configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads a local .env file, and honours
// environment fallbacks such as OPENROUTER_API_KEY and AWS_REGION. The Config
// type centralizes the worker topology, retry budget, progress weights, and
// provider credentials the daemon and CLI need.
package config
