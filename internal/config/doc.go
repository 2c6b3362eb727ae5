// Package config provides centralized configuration management for the
// OpenAgora runtime: server addresses, storage and queue drivers, market
// parameters such as dispatch timeouts and wallet seeds, and logging
// behaviour, all loaded from a single JSON file with sensible defaults.
package config
