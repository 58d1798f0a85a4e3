package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayGrowsExponentiallyWithoutJitter(t *testing.T) {
	p := Policy{Base: time.Second, Factor: 2, Cap: 30 * time.Second}

	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 8*time.Second, p.Delay(4))
}

func TestDelayRespectsCap(t *testing.T) {
	p := Policy{Base: time.Second, Factor: 2, Cap: 15 * time.Second}
	assert.Equal(t, 15*time.Second, p.Delay(10))
	assert.Equal(t, 15*time.Second, p.Delay(100), "huge attempts must not overflow")
}

func TestDelayJitterStaysInBand(t *testing.T) {
	p := Policy{Base: time.Second, Factor: 2, Cap: 30 * time.Second, Jitter: 0.2}
	for i := 0; i < 200; i++ {
		d := p.Delay(2) // nominal 2s
		assert.GreaterOrEqual(t, d, 1600*time.Millisecond)
		assert.LessOrEqual(t, d, 2400*time.Millisecond)
	}
}

func TestDelayClampsBadAttempt(t *testing.T) {
	p := Policy{Base: time.Second, Factor: 2, Cap: 30 * time.Second}
	assert.Equal(t, p.Delay(1), p.Delay(0))
	assert.Equal(t, p.Delay(1), p.Delay(-3))
}
