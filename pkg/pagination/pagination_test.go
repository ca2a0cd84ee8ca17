package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, DefaultLimit, NormalizeLimit(-3))
	assert.Equal(t, 7, NormalizeLimit(7))
	assert.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+50))
	assert.Equal(t, 8, LimitWithBuffer(7))
}

func TestCursorRoundTrip(t *testing.T) {
	want := Cursor{
		CreatedAt: time.Date(2026, 3, 1, 10, 30, 0, 123456000, time.UTC),
		ID:        uuid.New(),
	}

	encoded := EncodeCursor(want)
	assert.NotContains(t, encoded, "=")

	got, err := ParseCursor(encoded)
	require.NoError(t, err)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, want.ID, got.ID)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	cursor, err := ParseCursor("  ")
	require.NoError(t, err)
	assert.Nil(t, cursor)

	for _, value := range []string{"%%%", "bm9waXBl", EncodeCursor(Cursor{})[:4]} {
		_, err := ParseCursor(value)
		assert.Error(t, err, value)
	}
}

func TestTrim(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]Cursor, 4)
	for i := range rows {
		rows[i] = Cursor{CreatedAt: base.Add(-time.Duration(i) * time.Minute), ID: uuid.New()}
	}
	identity := func(c Cursor) Cursor { return c }

	page, next := Trim(rows, 3, identity)
	require.Len(t, page, 3)
	parsed, err := ParseCursor(next)
	require.NoError(t, err)
	assert.Equal(t, rows[2].ID, parsed.ID)
	assert.True(t, rows[2].CreatedAt.Equal(parsed.CreatedAt))

	page, next = Trim(rows[:2], 3, identity)
	assert.Len(t, page, 2)
	assert.Empty(t, next)
}
