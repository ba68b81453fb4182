package backend_impl

import (
	"github.com/ProtonMail/mailstore/backend"
	"github.com/ProtonMail/mailstore/internal/backend_impl/badger"
	"github.com/ProtonMail/mailstore/internal/backend_impl/bolt"
	"github.com/ProtonMail/mailstore/internal/backend_impl/sqlite3"
)

// NewColumnFamilyBuilder returns the bolt backend, which lays message rows out in descending uid order.
func NewColumnFamilyBuilder() backend.Builder {
	return bolt.NewBuilder()
}

// NewWideColumnBuilder returns the badger backend. An empty directory keeps the data in memory.
func NewWideColumnBuilder() backend.Builder {
	return badger.NewBuilder()
}

func NewSQLiteBuilder(debug bool) backend.Builder {
	if debug {
		return sqlite3.NewBuilder(sqlite3.Debug())
	}

	return sqlite3.NewBuilder()
}
