package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFloat(t *testing.T) {
	v, err := ParseFloat[float32]("1.5")
	assert.NoError(t, err)
	assert.Equal(t, float32(1.5), v)
	_, err = ParseFloat[float32]("abc")
	assert.Error(t, err)
}

func TestParseInt(t *testing.T) {
	v, err := ParseInt[int]("42")
	assert.NoError(t, err)
	assert.Equal(t, 42, v)
	_, err = ParseInt[int]("4.2")
	assert.Error(t, err)
}

func TestCheckPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		defer CheckPanic()
		panic("unreachable state")
	})
}
