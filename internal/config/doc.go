// Package config loads the server configuration with viper from defaults,
// an optional file, a .env file and CADENCE_-prefixed environment
// variables, then validates it with go-playground/validator. Sections map
// one to one onto the components that consume them.
package config
