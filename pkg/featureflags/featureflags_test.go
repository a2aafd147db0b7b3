package featureflags

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeFlags map[string]bool

func (f fakeFlags) IsFeatureEnabled(name string) (bool, error) {
	v, ok := f[name]
	if !ok {
		return false, errors.New("flag not found")
	}
	return v, nil
}

func TestStatic(t *testing.T) {
	flags := Static{PromotionEntitlementRecheck: false}
	require.False(t, flags.Enabled(context.Background(), PromotionEntitlementRecheck, true))
	require.True(t, flags.Enabled(context.Background(), "other", true))
}

func TestCachedFlags(t *testing.T) {
	var calls atomic.Int32
	ff := newCached(func() (environmentFlags, error) {
		calls.Add(1)
		return fakeFlags{PromotionEntitlementRecheck: false}, nil
	}, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.False(t, ff.Enabled(context.Background(), PromotionEntitlementRecheck, true))
		}()
	}
	wg.Wait()

	require.True(t, ff.Enabled(context.Background(), "missing", true))
	require.LessOrEqual(t, calls.Load(), int32(8))
	require.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestFetchFailureFallsBack(t *testing.T) {
	ff := newCached(func() (environmentFlags, error) {
		return nil, errors.New("flagsmith unavailable")
	}, time.Minute)

	require.True(t, ff.Enabled(context.Background(), PromotionEntitlementRecheck, true))
	require.False(t, ff.Enabled(context.Background(), PromotionEntitlementRecheck, false))
}
