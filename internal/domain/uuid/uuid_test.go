package uuid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventfold/eventfold/internal/domain/uuid"
)

func TestNew(t *testing.T) {
	id := uuid.New()

	assert.False(t, id.IsZero())
	assert.Len(t, id.String(), 36)
}

func TestNew_Uniqueness(t *testing.T) {
	assert.NotEqual(t, uuid.New(), uuid.New())
}

func TestParse(t *testing.T) {
	id := uuid.New()

	parsed, err := uuid.Parse(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParse_Invalid(t *testing.T) {
	_, err := uuid.Parse("not-a-uuid")
	require.Error(t, err)
}

func TestMustParse_PanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() {
		uuid.MustParse("broken")
	})
}

func TestIsZero(t *testing.T) {
	var zero uuid.UUID

	assert.True(t, zero.IsZero())
	assert.False(t, uuid.New().IsZero())
}
