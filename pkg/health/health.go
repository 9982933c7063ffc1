// Package health aggregates dependency probes into the /health, /health/live
// and /health/ready responses served by both doctor binaries.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/pipeline-doctor/pkg/logging"
)

// Status of one dependency or of the process as a whole
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
	StatusUnknown   Status = "unknown"
)

// severity orders statuses so the worst one wins aggregation
func (s Status) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Check is the result of probing one dependency
type Check struct {
	Name      string            `json:"name"`
	Status    Status            `json:"status"`
	Message   string            `json:"message,omitempty"`
	Error     string            `json:"error,omitempty"`
	Duration  time.Duration     `json:"duration"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (c *Check) fail(msg string) *Check {
	c.Status = StatusUnhealthy
	c.Error = msg
	return c
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Duration  time.Duration     `json:"duration"`
	Checks    map[string]*Check `json:"checks"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Checker probes one dependency
type Checker interface {
	Check(ctx context.Context) *Check
}

// Config for the health service
type Config struct {
	// Timeout bounds a readiness probe; the full report gets twice as long
	Timeout  time.Duration     `json:"timeout"`
	Metadata map[string]string `json:"metadata"`
}

func DefaultConfig() *Config {
	return &Config{Timeout: 5 * time.Second, Metadata: map[string]string{}}
}

// Service runs the registered checkers concurrently
type Service struct {
	logger   *logging.Logger
	metadata map[string]string
	timeout  time.Duration

	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewService creates a service; logger and config may be nil
func NewService(logger *logging.Logger, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{
		logger:   logger,
		metadata: config.Metadata,
		timeout:  timeout,
		checkers: map[string]Checker{},
	}
}

// RegisterChecker adds or replaces the checker reported under name
func (s *Service) RegisterChecker(name string, checker Checker) {
	s.mu.Lock()
	s.checkers[name] = checker
	s.mu.Unlock()
}

func (s *Service) UnregisterChecker(name string) {
	s.mu.Lock()
	delete(s.checkers, name)
	s.mu.Unlock()
}

// CheckHealth probes every dependency. The overall status is the worst
// individual status.
func (s *Service) CheckHealth(ctx context.Context) *HealthResponse {
	start := time.Now()

	s.mu.RLock()
	names := make([]string, 0, len(s.checkers))
	for name := range s.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	results := make([]*Check, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, checker Checker) {
			defer wg.Done()
			results[i] = checker.Check(ctx)
		}(i, s.checkers[name])
	}
	s.mu.RUnlock()
	wg.Wait()

	resp := &HealthResponse{
		Status:   StatusHealthy,
		Checks:   make(map[string]*Check, len(names)),
		Metadata: s.metadata,
	}
	for i, name := range names {
		resp.Checks[name] = results[i]
		if results[i].Status.severity() > resp.Status.severity() {
			resp.Status = results[i].Status
		}
	}
	resp.Timestamp = time.Now()
	resp.Duration = resp.Timestamp.Sub(start)

	if resp.Status != StatusHealthy && s.logger != nil {
		s.logger.Warn("Dependencies not healthy", "status", string(resp.Status))
	}
	return resp
}

func httpStatus(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// Handler serves the full per-dependency report
func (s *Service) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*s.timeout)
		defer cancel()

		report := s.CheckHealth(ctx)
		c.JSON(httpStatus(report.Status), report)
	}
}

// LivenessHandler answers as long as the process can serve HTTP
func (s *Service) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "alive", "timestamp": time.Now()})
	}
}

// ReadinessHandler fails while any dependency is unhealthy. Degraded
// dependencies keep the process ready.
func (s *Service) ReadinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
		defer cancel()

		report := s.CheckHealth(ctx)
		c.JSON(httpStatus(report.Status), gin.H{
			"status":    report.Status,
			"timestamp": report.Timestamp,
			"ready":     report.Status != StatusUnhealthy,
		})
	}
}
