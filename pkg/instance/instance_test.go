package instance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDPrefersEnvironment(t *testing.T) {
	t.Setenv("PAYMENTS_INSTANCE_ID", " publisher-3 ")
	assert.Equal(t, "publisher-3", ID())
}

func TestIDFallsBackToHostname(t *testing.T) {
	t.Setenv("PAYMENTS_INSTANCE_ID", "")
	assert.NotEmpty(t, ID())
}
