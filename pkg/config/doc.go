// Package config loads typed configuration structs from environment
// variables (and an optional .env file) using caarlos0/env tags. Parsed
// configs are cached per type, so independent packages can each load their
// own section without reading the environment twice.
//
//	var cfg pg.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
package config
