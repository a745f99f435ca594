package scanerrors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDetails(t *testing.T) {
	assert.Equal(t, "{}", NormalizeDetails(""))
	assert.Equal(t, "{}", NormalizeDetails("   "))
	assert.Equal(t, `{"a":1}`, NormalizeDetails(`{"a":1}`))
	assert.JSONEq(t, `{"raw":"not json"}`, NormalizeDetails("not json"))
}
