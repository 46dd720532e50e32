// Package repository is the Postgres persistence layer. All multi-row chat
// writes go through a single transaction; unread counters are only ever reset
// or incremented inside SQL so concurrent senders cannot lose updates.
package repository

import (
	"database/sql"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}
