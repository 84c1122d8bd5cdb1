package utils

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestTimer_StopReturnsElapsedDuration(t *testing.T) {
	timer := NewTimer("op", zerolog.Nop())
	time.Sleep(5 * time.Millisecond)

	d := timer.Stop()
	assert.Greater(t, d, time.Duration(0))
}

func TestTimer_DisabledStopReturnsZero(t *testing.T) {
	timer := NewTimer("op", zerolog.Nop())
	timer.Disable()

	assert.Equal(t, time.Duration(0), timer.Stop())
}

func TestTimer_StopWithContextIncludesFields(t *testing.T) {
	timer := NewTimer("op", zerolog.Nop())

	d := timer.StopWithContext(map[string]interface{}{
		"index": "NIFTY",
		"count": 5,
		"ratio": 0.75,
		"ok":    true,
	})
	assert.GreaterOrEqual(t, d, time.Duration(0))
}

func TestTimer_DisabledStopWithContextReturnsZero(t *testing.T) {
	timer := NewTimer("op", zerolog.Nop())
	timer.Disable()

	assert.Equal(t, time.Duration(0), timer.StopWithContext(map[string]interface{}{"x": 1}))
}
