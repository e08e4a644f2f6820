package sqlite

import (
	"errors"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
)

func TestUniqueViolation(t *testing.T) {
	table, ok := UniqueViolation(errors.New("boom"))
	assert.False(t, ok)
	assert.Empty(t, table)

	table, ok = UniqueViolation(sqlite3.Error{
		Code:         sqlite3.ErrConstraint,
		ExtendedCode: sqlite3.ErrConstraintNotNull,
	})
	assert.False(t, ok)
	assert.Empty(t, table)
}
