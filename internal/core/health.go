package core

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// healthCheckTimeout bounds the whole probe run. Load balancers poll /health
// aggressively; a hung dependency must surface as unhealthy, not as a stalled
// handler.
const healthCheckTimeout = 2 * time.Second

// HealthProbe is one dependency check behind GET /health. The API server
// registers a probe for its Postgres pool and one for the SQS dispatch
// queue; anything the queue cannot deliver without belongs here.
type HealthProbe interface {
	// Name identifies the component in the response body ("database", "sqs").
	Name() string

	// Check reports whether the dependency is reachable. It must honor the
	// context deadline.
	Check(ctx context.Context) error
}

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth runs every registered probe concurrently under a shared
// two-second deadline and reports per-component status. All probes healthy
// gives 200; any failure, panic, or probe still running at the deadline
// gives 503 with that component marked unhealthy.
//
// The endpoint is unauthenticated and mounted at GET /health.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	probes := s.HealthProbes
	if len(probes) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	var (
		mu      sync.Mutex
		results = make(map[string]error, len(probes))
		wg      sync.WaitGroup
	)

	for _, probe := range probes {
		wg.Add(1)
		go func(p HealthProbe) {
			defer wg.Done()
			err := runProbe(ctx, p)

			mu.Lock()
			results[p.Name()] = err
			mu.Unlock()
		}(probe)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Report with whatever finished; the rest count as timed out.
	}

	mu.Lock()
	finished := make(map[string]error, len(results))
	for name, err := range results {
		finished[name] = err
	}
	mu.Unlock()

	components := make(map[string]componentStatus, len(probes))
	healthy := true

	for _, probe := range probes {
		name := probe.Name()
		err, ok := finished[name]
		switch {
		case !ok:
			healthy = false
			components[name] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
		case err != nil:
			healthy = false
			components[name] = componentStatus{Status: "unhealthy", Message: err.Error()}
		default:
			components[name] = componentStatus{Status: "healthy"}
		}
	}

	resp := healthResponse{Components: components}
	if healthy {
		resp.Status = "healthy"
		JSON(w, r, http.StatusOK, resp)
		return
	}
	resp.Status = "unhealthy"
	JSON(w, r, http.StatusServiceUnavailable, resp)
}

// runProbe executes a single check, converting a panic into a probe failure
// so one broken probe cannot take the health endpoint down with it.
func runProbe(ctx context.Context, p HealthProbe) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return p.Check(ctx)
}
