// SPDX-License-Identifier: MIT

package guard

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialbot/trialbot/internal/state"
)

func newTestGuard(cfg Config) (*Guard, *state.Store) {
	store := state.New()
	g := New(cfg, store)
	return g, store
}

func TestQuotaScenario(t *testing.T) {
	// quota=3, four requests within ten seconds: 1-3 pass, 4 is limited.
	g, _ := newTestGuard(Config{Quota: 3, Window: time.Minute, BanThreshold: 5})

	base := time.Now()
	step := 0
	g.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, g.Check(100), "request %d", i+1)
	}

	err := g.Check(100)
	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Greater(t, rle.RetryAfter, time.Duration(0))
}

func TestWindowFreesUpAfterSixtySeconds(t *testing.T) {
	g, _ := newTestGuard(Config{Quota: 1, Window: time.Minute, BanThreshold: 5})

	base := time.Now()
	now := base
	g.now = func() time.Time { return now }

	require.NoError(t, g.Check(1))
	require.Error(t, g.Check(1))

	now = base.Add(61 * time.Second)
	assert.NoError(t, g.Check(1))
}

func TestBanCheckPrecedesRateCheck(t *testing.T) {
	g, store := newTestGuard(Config{Quota: 100, Window: time.Minute, BanThreshold: 5})
	store.Ban(9)

	err := g.Check(9)
	assert.ErrorIs(t, err, ErrBanned)

	// A banned user never gets a rate-limit answer, even with quota 0.
	g2, store2 := newTestGuard(Config{Quota: 0, Window: time.Minute, BanThreshold: 5})
	store2.Ban(9)
	assert.ErrorIs(t, g2.Check(9), ErrBanned)
}

func TestZeroQuotaRejectsEverything(t *testing.T) {
	g, _ := newTestGuard(Config{Quota: 0, Window: time.Minute, BanThreshold: 5})

	err := g.Check(1)
	var rle *RateLimitError
	assert.ErrorAs(t, err, &rle)
}

func TestSuspiciousEscalationBansAtThreshold(t *testing.T) {
	g, store := newTestGuard(Config{Quota: 100, Window: time.Minute, BanThreshold: 3})

	g.ReportSuspicious(5, "validation abuse")
	g.ReportSuspicious(5, "validation abuse")
	assert.False(t, store.IsBanned(5))

	g.ReportSuspicious(5, "validation abuse")
	assert.True(t, store.IsBanned(5))

	// Ban is monotonic: further actions keep failing with ErrBanned.
	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, g.Check(5), ErrBanned)
	}
}

func TestUnbanRestoresAccess(t *testing.T) {
	g, store := newTestGuard(Config{Quota: 10, Window: time.Minute, BanThreshold: 2})

	g.ReportSuspicious(6, "spam")
	g.ReportSuspicious(6, "spam")
	require.True(t, store.IsBanned(6))

	g.Unban(6)
	assert.NoError(t, g.Check(6))
	assert.Equal(t, 0, store.SuspiciousCount(6))
}

func TestRateLimitErrorMessage(t *testing.T) {
	err := &RateLimitError{RetryAfter: 42 * time.Second}
	assert.Contains(t, err.Error(), "42")
	assert.True(t, errors.As(error(err), new(*RateLimitError)))
}
