package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthChecker probes one dependency of the engine.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckerFunc adapts a closure into a named HealthChecker.
func CheckerFunc(name string, fn func(context.Context) error) HealthChecker {
	return checkerFunc{name: name, fn: fn}
}

type checkerFunc struct {
	name string
	fn   func(context.Context) error
}

func (c checkerFunc) Name() string                    { return c.name }
func (c checkerFunc) Check(ctx context.Context) error { return c.fn(ctx) }

const (
	healthStatusPass = "pass"
	healthStatusFail = "fail"

	healthCheckTimeout = 5 * time.Second
	healthCacheTTL     = 10 * time.Second
)

type checkResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

type healthResponse struct {
	Status        string                 `json:"status"`
	Service       string                 `json:"service"`
	Version       string                 `json:"version"`
	UptimeSeconds float64                `json:"uptime_seconds"`
	Checks        map[string]checkResult `json:"checks,omitempty"`
}

// HealthService answers liveness and readiness probes. Liveness only
// says the process is up; readiness runs every registered check in
// parallel under a shared timeout, and caches the verdict briefly so a
// probe storm does not hammer the dependencies.
type HealthService struct {
	service string
	version string
	started time.Time

	mu       sync.Mutex
	checkers []HealthChecker
	cached   *healthResponse
	cachedAt time.Time
}

func NewHealthService(service, version string) *HealthService {
	return &HealthService{
		service: service,
		version: version,
		started: time.Now(),
	}
}

// Register adds a dependency probe. Not safe to call once the server
// is accepting traffic.
func (s *HealthService) Register(c HealthChecker) {
	s.checkers = append(s.checkers, c)
}

func (s *HealthService) Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, http.StatusOK, healthResponse{
			Status:        healthStatusPass,
			Service:       s.service,
			Version:       s.version,
			UptimeSeconds: time.Since(s.started).Seconds(),
		})
	}
}

func (s *HealthService) Readiness() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := s.snapshot(r.Context())
		code := http.StatusOK
		if response.Status != healthStatusPass {
			code = http.StatusServiceUnavailable
		}
		writeHealth(w, code, response)
	}
}

func (s *HealthService) snapshot(ctx context.Context) healthResponse {
	s.mu.Lock()
	if s.cached != nil && time.Since(s.cachedAt) < healthCacheTTL {
		cached := *s.cached
		s.mu.Unlock()
		return cached
	}
	s.mu.Unlock()

	response := s.runChecks(ctx)

	s.mu.Lock()
	s.cached = &response
	s.cachedAt = time.Now()
	s.mu.Unlock()
	return response
}

func (s *HealthService) runChecks(ctx context.Context) healthResponse {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	response := healthResponse{
		Status:        healthStatusPass,
		Service:       s.service,
		Version:       s.version,
		UptimeSeconds: time.Since(s.started).Seconds(),
		Checks:        make(map[string]checkResult, len(s.checkers)),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, checker := range s.checkers {
		wg.Add(1)
		go func(c HealthChecker) {
			defer wg.Done()
			start := time.Now()
			err := c.Check(ctx)
			result := checkResult{
				Status:    healthStatusPass,
				ElapsedMS: time.Since(start).Milliseconds(),
			}
			if err != nil {
				result.Status = healthStatusFail
				result.Error = err.Error()
			}
			mu.Lock()
			response.Checks[c.Name()] = result
			if err != nil {
				response.Status = healthStatusFail
			}
			mu.Unlock()
		}(checker)
	}
	wg.Wait()
	return response
}

func writeHealth(w http.ResponseWriter, code int, response healthResponse) {
	w.Header().Set("Content-Type", "application/health+json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(response)
}
