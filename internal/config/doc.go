// Package config loads, normalizes, and validates Coconut daemon and CLI
// configuration.
//
// Settings come from a TOML file (default ~/.config/coconut/config.toml, then
// ./coconut.toml), with credentials falling back to the GEMINI_API_KEY and
// COCONUT_ELEVATED_KEY environment variables. A local .env file is loaded first
// when present so development keys do not need exporting.
package config
