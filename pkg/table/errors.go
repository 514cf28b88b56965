package table

import (
	"errors"
	"fmt"

	"github.com/edgeflare/pgtable/pkg/sqlb"
)

var (
	// ErrInvalidInput is sqlb.ErrInvalidInput, so either can be matched.
	ErrInvalidInput = sqlb.ErrInvalidInput
	// ErrInvalidKey is returned when a key has the wrong number of values
	// or a NULL component.
	ErrInvalidKey = errors.New("invalid key")
	// ErrNoPrimaryKey is returned by key operations on a table without a primary key.
	ErrNoPrimaryKey = errors.New("table has no primary key")
	// ErrNotFound is returned by FindByKey when no row matches.
	ErrNotFound = errors.New("row not found")
)

// RegistryError reports a failed table discovery.
type RegistryError struct {
	Schema string
	Table  string
	Err    error
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("table %s.%s: discovery failed: %v", e.Schema, e.Table, e.Err)
}

func (e *RegistryError) Unwrap() error { return e.Err }
