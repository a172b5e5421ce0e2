// Package api maps the engine's exposed operations onto HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/swingtrader/internal/domain"
	"github.com/rustyeddy/swingtrader/internal/engine"
	"github.com/rustyeddy/swingtrader/internal/guidelines"
	"github.com/rustyeddy/swingtrader/internal/logging"
)

// maxRuleDocument bounds the body accepted by the validate endpoint.
const maxRuleDocument = 1 << 20

// Engine is the slice of *engine.Engine the handlers call.
type Engine interface {
	Status() engine.Status
	Health(ctx context.Context) engine.Health
	Start(ctx context.Context) error
	Stop() error
	Pause() error
	Resume() error
	ExecuteCycle(ctx context.Context) (engine.CycleResult, error)
	LastCycle() (engine.CycleResult, bool)
	Portfolio(ctx context.Context) (domain.PortfolioSnapshot, error)
	Positions(ctx context.Context) ([]domain.Position, error)
}

// Rules is the slice of *guidelines.Store the handlers call.
type Rules interface {
	Current() (*guidelines.RuleSet, error)
	Reload() (*guidelines.RuleSet, error)
}

type handler struct {
	eng   Engine
	rules Rules
	log   *logrus.Entry
}

// NewRouter returns a gin engine with recovery, request logging and every
// route registered.
func NewRouter(eng Engine, rules Rules, log *logrus.Entry) *gin.Engine {
	if log == nil {
		log = logging.Component(nil, "api")
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))
	RegisterRoutes(r, eng, rules, log)
	return r
}

func RegisterRoutes(r gin.IRouter, eng Engine, rules Rules, log *logrus.Entry) {
	h := &handler{eng: eng, rules: rules, log: log}

	g := r.Group("/api")
	g.GET("/status", h.status)
	g.GET("/health", h.health)

	g.POST("/engine/start", h.lifecycle("start", func(c *gin.Context) error { return eng.Start(c.Request.Context()) }))
	g.POST("/engine/stop", h.lifecycle("stop", func(*gin.Context) error { return eng.Stop() }))
	g.POST("/engine/pause", h.lifecycle("pause", func(*gin.Context) error { return eng.Pause() }))
	g.POST("/engine/resume", h.lifecycle("resume", func(*gin.Context) error { return eng.Resume() }))

	g.POST("/cycles", h.executeCycle)
	g.GET("/cycles/last", h.lastCycle)

	g.GET("/portfolio", h.portfolio)
	g.GET("/positions", h.positions)

	g.GET("/guidelines", h.currentRules)
	g.POST("/guidelines/reload", h.reloadRules)
	g.POST("/guidelines/validate", h.validateRules)
}

func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}).Debug("request")
	}
}

func fail(c *gin.Context, code int, err error) {
	c.JSON(code, gin.H{"error": err.Error()})
}

// stateCode maps lifecycle misuse to 409; anything else is a server error.
func stateCode(err error) int {
	var se *engine.StateError
	if errors.As(err, &se) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.eng.Status())
}

func (h *handler) health(c *gin.Context) {
	hl := h.eng.Health(c.Request.Context())
	code := http.StatusOK
	if !hl.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, hl)
}

func (h *handler) lifecycle(op string, fn func(*gin.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := fn(c); err != nil {
			h.log.WithError(err).WithField("op", op).Warn("lifecycle call failed")
			fail(c, stateCode(err), err)
			return
		}
		c.JSON(http.StatusOK, h.eng.Status())
	}
}

func (h *handler) executeCycle(c *gin.Context) {
	res, err := h.eng.ExecuteCycle(c.Request.Context())
	if err != nil {
		fail(c, stateCode(err), err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) lastCycle(c *gin.Context) {
	res, ok := h.eng.LastCycle()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no cycle has run"})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) portfolio(c *gin.Context) {
	snap, err := h.eng.Portfolio(c.Request.Context())
	if err != nil {
		fail(c, http.StatusServiceUnavailable, err)
		return
	}
	c.JSON(http.StatusOK, portfolioViewOf(snap))
}

func (h *handler) positions(c *gin.Context) {
	positions, err := h.eng.Positions(c.Request.Context())
	if err != nil {
		fail(c, http.StatusServiceUnavailable, err)
		return
	}
	out := make([]positionView, len(positions))
	for i, p := range positions {
		out[i] = positionViewOf(p)
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) currentRules(c *gin.Context) {
	rs, err := h.rules.Current()
	if err != nil {
		fail(c, http.StatusServiceUnavailable, err)
		return
	}
	c.JSON(http.StatusOK, rs)
}

func (h *handler) reloadRules(c *gin.Context) {
	rs, err := h.rules.Reload()
	if err != nil {
		var le *guidelines.RuleLoadError
		if errors.As(err, &le) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":    err.Error(),
				"kind":     le.Kind.String(),
				"problems": le.Problems,
			})
			return
		}
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": rs.Version, "checksum": rs.Checksum, "loaded_at": rs.LoadedAt})
}

// validateRules checks a posted YAML or JSON document without loading it.
func (h *handler) validateRules(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRuleDocument))
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	rs, err := guidelines.Parse(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, guidelines.ValidationResult{
			Errors:          []string{err.Error()},
			Warnings:        []string{},
			MissingSections: []string{},
		})
		return
	}
	c.JSON(http.StatusOK, guidelines.Validate(rs))
}
