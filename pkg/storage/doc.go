// Package storage provides credential store implementations behind the
// auth.UserStore contract: a PostgreSQL store for deployments and an
// in-memory store for tests and local development.
package storage
