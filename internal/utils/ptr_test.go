package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPtr(t *testing.T) {
	v := 0.72
	p := Ptr(v)
	v = 0.1

	assert.Equal(t, 0.72, *p, "Ptr copies its argument")
}

func TestDeref(t *testing.T) {
	assert.Equal(t, 0.9, Deref(Ptr(0.9), 0))
	assert.Equal(t, 0.0, Deref[float64](nil, 0))
	assert.Equal(t, "n/a", Deref[string](nil, "n/a"))
}
