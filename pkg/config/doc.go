// Package config loads and validates SkyGuard's configuration from
// environment variables, optionally seeded from a .env file.
//
// All keys carry the SKYGUARD_ prefix. Validation is fatal on startup
// for anything that would silently weaken authentication, most notably
// a token signing secret shorter than 32 bytes.
package config
