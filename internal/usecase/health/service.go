package health

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates total failure.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	checks map[string]func(ctx context.Context) error
}

// New creates a Service. embedding can be nil.
func New(db Pinger, embedding EmbeddingChecker) *Service {
	s := &Service{checks: map[string]func(context.Context) error{"database": db.Ping}}
	if embedding != nil {
		s.checks["embedding"] = embedding.HealthCheck
	}
	return s
}

// WithQueue adds the ingestion queue check.
func (s *Service) WithQueue(q Pinger) *Service {
	s.checks["queue"] = q.Ping
	return s
}

// WithObjectStore adds the object store check.
func (s *Service) WithObjectStore(o Pinger) *Service {
	s.checks["objectstore"] = o.Ping
	return s
}

// Check runs all health checks concurrently.
func (s *Service) Check(ctx context.Context) Report {
	var (
		mu     sync.Mutex
		g      errgroup.Group
		checks = make(map[string]CheckResult, len(s.checks))
	)
	for name, check := range s.checks {
		g.Go(func() error {
			res := CheckOK
			if err := check(ctx); err != nil {
				res = CheckError
			}
			mu.Lock()
			checks[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, v := range checks {
		if v == CheckError {
			failed++
		}
	}

	status := Healthy
	switch {
	case failed == len(checks):
		status = Unhealthy
	case failed > 0:
		status = Degraded
	}
	return Report{Status: status, Checks: checks}
}
