// Package config loads and validates labsync configuration.
//
// Configuration is read once from a TOML file, normalized, validated, and then
// passed by pointer into every component constructor. Core logic never reads
// ambient global state; anything a component needs must arrive through this
// struct.
package config
