package guidelines

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/swingtrader/internal/logging"
)

func readTestdata(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

// newStore copies a testdata document into a temp dir so tests can
// rewrite it.
func newStore(t *testing.T, name string) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guidelines.yaml")
	if name != "" {
		require.NoError(t, os.WriteFile(path, readTestdata(t, name), 0644))
	}
	return NewStore(path, WithLogger(logging.Discard()), WithDebounce(20*time.Millisecond)), path
}

func TestParseValidDocument(t *testing.T) {
	t.Parallel()

	rs, err := Parse(readTestdata(t, "valid.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "2024.06", rs.Version)
	assert.Contains(t, rs.StockSelection.Universe, "AAPL")
	assert.Len(t, rs.ActiveEntrySignals(), 2)
	assert.Equal(t, 8, rs.RiskLimits.MaxOpenPositions)
	assert.Len(t, rs.Checksum, 64)

	res := Validate(rs)
	assert.True(t, res.Valid, "errors: %v", res.Errors)
	assert.Empty(t, res.MissingSections)
}

func TestParseJSONAndRejectUnknownKeys(t *testing.T) {
	t.Parallel()

	rs, err := Parse([]byte(`{"version":"j1","risk_limits":{"max_open_positions":3}}`))
	require.NoError(t, err)
	assert.Equal(t, "j1", rs.Version)
	assert.Equal(t, 3, rs.RiskLimits.MaxOpenPositions)

	_, err = Parse([]byte("version: x\nnot_a_section: 1\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("  \n"))
	assert.Error(t, err)
}

func TestValidateReportsProblems(t *testing.T) {
	t.Parallel()

	rs, err := Parse(readTestdata(t, "invalid.yaml"))
	require.NoError(t, err)

	res := Validate(rs)
	assert.False(t, res.Valid)
	assert.Contains(t, joined(res.Errors), "stock_selection.price.min")
	assert.Contains(t, joined(res.Errors), "max_daily_loss_percent")
	assert.Contains(t, joined(res.Warnings), "percent fallback")
}

func TestValidateMissingSections(t *testing.T) {
	t.Parallel()

	res := Validate(&RuleSet{Version: "empty"})
	assert.False(t, res.Valid)
	assert.ElementsMatch(t, []string{"stock_selection", "entry_signals", "exit_rules", "risk_limits"}, res.MissingSections)

	assert.False(t, Validate(nil).Valid)
}

func TestValidateIsPure(t *testing.T) {
	t.Parallel()

	rs, err := Parse(readTestdata(t, "invalid.yaml"))
	require.NoError(t, err)
	before, err := rs.Marshal()
	require.NoError(t, err)

	first := Validate(rs)
	second := Validate(rs)
	after, err := rs.Marshal()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, string(before), string(after))
}

func TestValidatePercentBounds(t *testing.T) {
	t.Parallel()

	base, err := Parse(readTestdata(t, "valid.yaml"))
	require.NoError(t, err)

	for _, v := range []float64{0, -1, 100.5} {
		rs := *base
		rs.RiskLimits.MaxPositionSizePercent = v
		assert.False(t, Validate(&rs).Valid, "value %g", v)
	}
	rs := *base
	rs.RiskLimits.MaxPositionSizePercent = 100
	assert.True(t, Validate(&rs).Valid)
}

func TestValidateTechnicalExitPeriod(t *testing.T) {
	t.Parallel()

	base, err := Parse(readTestdata(t, "valid.yaml"))
	require.NoError(t, err)

	tests := []struct {
		period int
		valid  bool
	}{
		{0, true},
		{20, true},
		{50, true},
		{200, true},
		{30, false},
		{-50, false},
	}
	for _, tt := range tests {
		rs := *base
		rs.ExitRules.TechnicalExitSMA = tt.period
		res := Validate(&rs)
		assert.Equal(t, tt.valid, res.Valid, "period %d", tt.period)
		if !tt.valid {
			assert.Contains(t, joined(res.Errors), "technical_exit_sma")
		}
	}
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	s, path := newStore(t, "")
	_, err := s.Load()
	assert.True(t, IsKind(err, FileNotFound), "err: %v", err)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	require.NoError(t, os.WriteFile(path, []byte("version: [unterminated"), 0644))
	_, err = s.Load()
	assert.True(t, IsKind(err, ParseFailed), "err: %v", err)

	require.NoError(t, os.WriteFile(path, readTestdata(t, "invalid.yaml"), 0644))
	_, err = s.Load()
	assert.True(t, IsKind(err, ValidationFailed), "err: %v", err)
	assert.Equal(t, err, s.LastError())

	_, err = s.Current()
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestLoadFallsBackToLastKnownGood(t *testing.T) {
	t.Parallel()

	s, path := newStore(t, "valid.yaml")
	good, err := s.Load()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, readTestdata(t, "invalid.yaml"), 0644))
	got, err := s.Load()
	require.NoError(t, err)
	assert.Same(t, good, got)
	assert.True(t, IsKind(s.LastError(), ValidationFailed))

	cur, err := s.Current()
	require.NoError(t, err)
	assert.Same(t, good, cur)
}

func TestReloadValidSetNeverFallsBack(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t, "valid.yaml")
	first, err := s.Load()
	require.NoError(t, err)

	second, err := s.Reload()
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, first.Generation+1, second.Generation)
	assert.NoError(t, s.LastError())
}

func TestCurrentIsStableBetweenReloads(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t, "valid.yaml")
	_, err := s.Load()
	require.NoError(t, err)

	a, err := s.Current()
	require.NoError(t, err)
	b, err := s.Current()
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestReloadNotifiesListenersInOrder(t *testing.T) {
	t.Parallel()

	s, path := newStore(t, "valid.yaml")
	_, err := s.Load()
	require.NoError(t, err)

	var order []string
	s.OnChange(func(*RuleSet) error { order = append(order, "first"); return errors.New("boom") })
	s.OnChange(func(*RuleSet) error { panic("listener bug") })
	s.OnChange(func(rs *RuleSet) error { order = append(order, "third:"+rs.Version); return nil })

	rs, err := s.Reload()
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "third:2024.06"}, order)
	cur, _ := s.Current()
	assert.Same(t, rs, cur)

	// A rejected document is not a change.
	order = nil
	require.NoError(t, os.WriteFile(path, readTestdata(t, "invalid.yaml"), 0644))
	_, err = s.Reload()
	require.NoError(t, err)
	assert.Empty(t, order)
}

func TestSubscribeKeepsNewest(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t, "valid.yaml")
	ch := s.Subscribe(1)

	for i := 0; i < 3; i++ {
		_, err := s.Reload()
		require.NoError(t, err)
	}
	rs := <-ch
	assert.Equal(t, int64(3), rs.Generation)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	s, path := newStore(t, "valid.yaml")
	_, err := s.Load()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var once sync.Once
	reloaded := make(chan *RuleSet, 1)
	s.OnChange(func(rs *RuleSet) error {
		once.Do(func() { reloaded <- rs })
		return nil
	})
	require.NoError(t, s.Watch(ctx))

	data := readTestdata(t, "valid.yaml")
	data = append(data, []byte("\n# touched\n")...)
	require.NoError(t, os.WriteFile(path, data, 0644))

	select {
	case rs := <-reloaded:
		assert.Equal(t, int64(2), rs.Generation)
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher did not fire on rules change")
	}
}

func TestWatchSetupFailureCanBeRetried(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rules")
	s := NewStore(filepath.Join(dir, "guidelines.yaml"), WithLogger(logging.Discard()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.Error(t, s.Watch(ctx))
	require.Error(t, s.Watch(ctx), "a failed watch must not leave the store marked as watching")

	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, s.Watch(ctx))
	require.NoError(t, s.Watch(ctx))
}

func joined(ss []string) string {
	out := ""
	for _, s := range ss {
		out += s + "\n"
	}
	return out
}
