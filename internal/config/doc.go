// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// An optional .env file is loaded into the process environment first, so
// secrets can live outside the YAML file during local runs.
package config
