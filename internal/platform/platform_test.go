package platform_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mrz1836/tessera/internal/platform"
)

func TestWaitForForeground(t *testing.T) {
	t.Parallel()

	t.Run("already foreground", func(t *testing.T) {
		t.Parallel()
		assert.True(t, platform.WaitForForeground(context.Background(), platform.AlwaysForeground{}, time.Hour, time.Hour))
	})

	t.Run("returns to foreground", func(t *testing.T) {
		t.Parallel()
		fg := platform.NewForeground(false)
		go func() {
			time.Sleep(30 * time.Millisecond)
			fg.SetForeground(true)
		}()
		start := time.Now()
		assert.True(t, platform.WaitForForeground(context.Background(), fg, 5*time.Millisecond, time.Second))
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("times out", func(t *testing.T) {
		t.Parallel()
		fg := platform.NewForeground(false)
		assert.False(t, platform.WaitForForeground(context.Background(), fg, 5*time.Millisecond, 40*time.Millisecond))
	})

	t.Run("cancelled", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.False(t, platform.WaitForForeground(ctx, platform.NewForeground(false), time.Millisecond, time.Second))
	})
}

func TestStaticProbe(t *testing.T) {
	t.Parallel()
	var all platform.StaticProbe
	assert.True(t, all.IsInstalled("anything"))

	probe := platform.StaticProbe{"app.phantom": true}
	assert.True(t, probe.IsInstalled("app.phantom"))
	assert.False(t, probe.IsInstalled("com.solflare.mobile"))
}
