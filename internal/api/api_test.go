package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/swingtrader/internal/domain"
	"github.com/rustyeddy/swingtrader/internal/engine"
	"github.com/rustyeddy/swingtrader/internal/guidelines"
	"github.com/rustyeddy/swingtrader/internal/logging"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeEngine struct {
	status   engine.Status
	health   engine.Health
	startErr error
	cycle    engine.CycleResult
	cycleErr error
	last     *engine.CycleResult
	snap     domain.PortfolioSnapshot
	snapErr  error
}

func (f *fakeEngine) Status() engine.Status                { return f.status }
func (f *fakeEngine) Health(context.Context) engine.Health { return f.health }
func (f *fakeEngine) Start(context.Context) error          { return f.startErr }
func (f *fakeEngine) Stop() error                          { return nil }
func (f *fakeEngine) Pause() error                         { return nil }
func (f *fakeEngine) Resume() error                        { return nil }

func (f *fakeEngine) ExecuteCycle(context.Context) (engine.CycleResult, error) {
	return f.cycle, f.cycleErr
}

func (f *fakeEngine) LastCycle() (engine.CycleResult, bool) {
	if f.last == nil {
		return engine.CycleResult{}, false
	}
	return *f.last, true
}

func (f *fakeEngine) Portfolio(context.Context) (domain.PortfolioSnapshot, error) {
	return f.snap, f.snapErr
}

func (f *fakeEngine) Positions(context.Context) ([]domain.Position, error) {
	if f.snapErr != nil {
		return nil, f.snapErr
	}
	return f.snap.Portfolio.OpenPositions(), nil
}

func rulesStore(t *testing.T) (*guidelines.Store, string) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "guidelines", "testdata", "valid.yaml"))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "guidelines.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	s := guidelines.NewStore(path, guidelines.WithLogger(logging.Discard()))
	_, err = s.Load()
	require.NoError(t, err)
	return s, path
}

func serve(t *testing.T, eng Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rules, _ := rulesStore(t)
	return do(NewRouter(eng, rules, logging.Discard()), method, path, body)
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestStatus(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{status: engine.Status{State: engine.Paused, Running: true, Paused: true, CyclesCompleted: 3}}

	w := serve(t, eng, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "PAUSED", body["state"])
	assert.Equal(t, float64(3), body["cycles_completed"])
}

func TestHealthCodes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		healthy bool
		want    int
	}{
		{"healthy", true, http.StatusOK},
		{"unhealthy", false, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			eng := &fakeEngine{health: engine.Health{Healthy: tt.healthy, State: engine.Idle, Checks: []engine.HealthCheck{}}}
			w := serve(t, eng, http.MethodGet, "/api/health", "")
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, tt.healthy, decode(t, w)["healthy"])
		})
	}
}

func TestLifecycleConflict(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{startErr: &engine.StateError{Op: "start", State: engine.Idle, Err: engine.ErrAlreadyRunning}}

	w := serve(t, eng, http.MethodPost, "/api/engine/start", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, decode(t, w)["error"], "already running")

	w = serve(t, eng, http.MethodPost, "/api/engine/pause", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStartFailureIsServerError(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{startErr: &guidelines.RuleLoadError{Kind: guidelines.FileNotFound, Path: "x.yaml"}}

	w := serve(t, eng, http.MethodPost, "/api/engine/start", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestExecuteCycle(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{cycle: engine.CycleResult{
		ID:         "c1",
		Trades:     []domain.Trade{},
		Rejections: []engine.Rejection{},
		Errors:     []*engine.CycleError{},
		Success:    true,
	}}

	w := serve(t, eng, http.MethodPost, "/api/cycles", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "c1", body["id"])
	assert.Equal(t, []any{}, body["errors"])
	assert.Equal(t, true, body["success"])

	eng.cycleErr = &engine.StateError{Op: "cycle", State: engine.Paused, Err: engine.ErrPaused}
	w = serve(t, eng, http.MethodPost, "/api/cycles", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLastCycle(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{}

	w := serve(t, eng, http.MethodGet, "/api/cycles/last", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	eng.last = &engine.CycleResult{ID: "c9", Errors: []*engine.CycleError{}}
	w = serve(t, eng, http.MethodGet, "/api/cycles/last", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c9", decode(t, w)["id"])
}

func TestPortfolioAndPositions(t *testing.T) {
	t.Parallel()
	deadline := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	pos := domain.Position{
		Symbol:        "AAPL",
		Sector:        "Technology",
		Quantity:      10,
		AvgEntryPrice: 100,
		CurrentPrice:  110,
		Criteria: []domain.ExitCriterion{
			{Rule: domain.StopLoss{Price: 94, Method: domain.StopATR}, Active: true},
			{Rule: domain.ProfitTarget{Price: 120, Level: 1}, Active: true},
			{Rule: domain.TimeBased{Deadline: deadline}, Active: true},
		},
	}
	eng := &fakeEngine{snap: domain.PortfolioSnapshot{
		Portfolio: domain.Portfolio{ID: "main", Cash: 9000, Positions: []domain.Position{pos, {Symbol: "MSFT"}}},
		Metrics:   domain.Metrics{TotalValue: 10100, Cash: 9000, OpenPositions: 1},
	}}

	w := serve(t, eng, http.MethodGet, "/api/portfolio", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "main", body["id"])
	metrics := body["metrics"].(map[string]any)
	assert.Equal(t, 10100.0, metrics["total_value"])
	assert.Equal(t, map[string]any{}, metrics["sector_exposure"])
	assert.Len(t, body["positions"], 1)

	w = serve(t, eng, http.MethodGet, "/api/positions", "")
	require.Equal(t, http.StatusOK, w.Code)
	var positions []positionView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &positions))
	require.Len(t, positions, 1)
	p := positions[0]
	assert.Equal(t, "AAPL", p.Symbol)
	assert.Equal(t, 100.0, p.UnrealizedPnL)
	require.Len(t, p.Criteria, 3)
	assert.Equal(t, domain.StopLossKind, p.Criteria[0].Kind)
	assert.Equal(t, domain.StopATR, p.Criteria[0].Method)
	assert.Equal(t, 1, p.Criteria[1].Level)
	require.NotNil(t, p.Criteria[2].Deadline)
	assert.True(t, deadline.Equal(*p.Criteria[2].Deadline))
}

func TestPortfolioUnavailable(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{snapErr: context.DeadlineExceeded}

	assert.Equal(t, http.StatusServiceUnavailable, serve(t, eng, http.MethodGet, "/api/portfolio", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, eng, http.MethodGet, "/api/positions", "").Code)
}

func TestGuidelinesCurrentAndReload(t *testing.T) {
	t.Parallel()
	rules, path := rulesStore(t)
	r := NewRouter(&fakeEngine{}, rules, logging.Discard())

	w := do(r, http.MethodGet, "/api/guidelines", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "2024.06", body["version"])
	assert.Contains(t, body, "risk_limits")

	w = do(r, http.MethodPost, "/api/guidelines/reload", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2024.06", decode(t, w)["version"])

	require.NoError(t, os.WriteFile(path, []byte("version: [unterminated"), 0o644))
	w = do(r, http.MethodPost, "/api/guidelines/reload", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "ParseFailed", decode(t, w)["kind"])

	// the last good set is still served
	w = do(r, http.MethodGet, "/api/guidelines", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestValidateGuidelines(t *testing.T) {
	t.Parallel()
	valid, err := os.ReadFile(filepath.Join("..", "guidelines", "testdata", "valid.yaml"))
	require.NoError(t, err)
	invalid, err := os.ReadFile(filepath.Join("..", "guidelines", "testdata", "invalid.yaml"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		body  string
		code  int
		valid bool
	}{
		{"valid document", string(valid), http.StatusOK, true},
		{"invalid document", string(invalid), http.StatusOK, false},
		{"unparsable", "{{{", http.StatusBadRequest, false},
		{"empty", "", http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := serve(t, &fakeEngine{}, http.MethodPost, "/api/guidelines/validate", tt.body)
			require.Equal(t, tt.code, w.Code)

			var res guidelines.ValidationResult
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
			assert.Equal(t, tt.valid, res.Valid)
			if !tt.valid {
				assert.NotEmpty(t, res.Errors)
			}
		})
	}
}
