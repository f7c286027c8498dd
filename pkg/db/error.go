package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	// PostgreSQL (error code 23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsDatabaseExistsErr reports whether a CREATE DATABASE failed only because
// the database was already there. Postgres has no IF NOT EXISTS for
// databases, so concurrent provisioners converge through this check.
func IsDatabaseExistsErr(err error) bool {
	if err == nil {
		return false
	}

	// PostgreSQL (SQLSTATE 42P04)
	if strings.Contains(err.Error(), "42P04") {
		return true
	}

	// MySQL (error code 1007)
	if strings.Contains(err.Error(), "Error 1007") {
		return true
	}

	if strings.Contains(err.Error(), "already exists") {
		return true
	}

	return false
}
