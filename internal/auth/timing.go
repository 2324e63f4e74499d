package auth

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig controls the uniform-failure delay applied to login and
// token-endpoint rejections so "unknown user", "locked account" and
// "wrong password" take indistinguishable time.
type TimingConfig struct {
	BaseDelayMs    int
	RandomDelayMs  int
	DelayOnSuccess bool
}

// TimingDelay equalizes response timing across failure causes.
type TimingDelay struct {
	config TimingConfig
}

// NewTimingDelay creates a TimingDelay.
func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{config: config}
}

func cryptoRandIntn(max int) int {
	if max <= 0 {
		return 0
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	return int(binary.BigEndian.Uint64(buf[:]) % uint64(max))
}

func (td *TimingDelay) target() time.Duration {
	base := time.Duration(td.config.BaseDelayMs) * time.Millisecond
	jitter := time.Duration(cryptoRandIntn(td.config.RandomDelayMs)) * time.Millisecond
	return base + jitter
}

// WaitFrom sleeps until at least the target delay has elapsed since start.
// Successful operations return immediately unless DelayOnSuccess is set.
func (td *TimingDelay) WaitFrom(start time.Time, success bool) {
	if success && !td.config.DelayOnSuccess {
		return
	}
	target := td.target()
	if elapsed := time.Since(start); elapsed < target {
		time.Sleep(target - elapsed)
	}
}
