package application

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNow(t *testing.T) {
	fixed := time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, fixed, Now(FixedClock{T: fixed}))

	got := Now(nil)
	assert.Equal(t, time.UTC, got.Location())
	assert.WithinDuration(t, time.Now(), got, time.Second)
}
