// Package config loads authguard settings from a YAML file, command-line
// flags and the environment, in increasing order of precedence.
//
// Secrets are normally supplied through the environment:
//
//	AUTHGUARD_JWT_SECRET  signing key, at least 32 bytes
//	REDIS_ADDR            host:port of the token cache
//	REDIS_PASSWORD        cache password
package config
