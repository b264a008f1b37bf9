// Package config loads environment-based configuration structs for the
// engine's tunables. Each package declares its own Config struct with `env`
// tags and envDefault values; config.Load fills it from the process
// environment, consulting a .env file once if present.
package config
