package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPostgres(t *testing.T) {
	assert.True(t, IsPostgres(PGX))
	assert.False(t, IsPostgres(SQLite3))
	assert.False(t, IsPostgres("mysql"))
}

func TestInsertIgnore(t *testing.T) {
	prefix, suffix := InsertIgnore(SQLite3)
	assert.Equal(t, "INSERT OR IGNORE", prefix)
	assert.Empty(t, suffix)

	prefix, suffix = InsertIgnore(PGX)
	assert.Equal(t, "INSERT", prefix)
	assert.Equal(t, " ON CONFLICT DO NOTHING", suffix)
}
