package health

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

// Result is what a probe reports for one component.
type Result struct {
	Score   float64
	Metrics types.ComponentMetrics
}

// Probe checks one component. prev is the component as of the last tick.
type Probe interface {
	Probe(ctx context.Context, prev types.ComponentHealth) (Result, error)
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context, prev types.ComponentHealth) (Result, error)

func (f ProbeFunc) Probe(ctx context.Context, prev types.ComponentHealth) (Result, error) {
	return f(ctx, prev)
}

// RandomWalkProbe simulates a component whose score wanders within
// [Min, Max]. It stands in until real probes are configured.
type RandomWalkProbe struct {
	Min, Max float64
	Step     float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandomWalkProbe walks between 90 and 100 in steps of at most 2.
func NewRandomWalkProbe(seed uint64) *RandomWalkProbe {
	return &RandomWalkProbe{
		Min:  90,
		Max:  100,
		Step: 2,
		rnd:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (p *RandomWalkProbe) Probe(_ context.Context, prev types.ComponentHealth) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	score := prev.Score
	if score < p.Min || score > p.Max {
		score = p.Min + p.rnd.Float64()*(p.Max-p.Min)
	} else {
		score += (p.rnd.Float64()*2 - 1) * p.Step
	}
	score = math.Max(p.Min, math.Min(p.Max, score))

	// derived so that a perfect score means 100% availability, 50ms and
	// no errors
	deficit := 100 - score
	return Result{
		Score: score,
		Metrics: types.ComponentMetrics{
			Availability: 100 - deficit/10,
			Latency:      50 + deficit*10,
			ErrorRate:    deficit / 10,
			Throughput:   1000 * score / 100 * (0.9 + p.rnd.Float64()*0.2),
		},
	}, nil
}

// HTTPProbe GETs URL and scores the response. A transport error or a
// non-2xx status scores zero with availability 0.
type HTTPProbe struct {
	Client *http.Client
	URL    string
	// SlowAfter marks a successful response as degraded. Default 500ms.
	SlowAfter time.Duration
}

func (p *HTTPProbe) Probe(ctx context.Context, _ types.ComponentHealth) (Result, error) {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	slow := p.SlowAfter
	if slow <= 0 {
		slow = 500 * time.Millisecond
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("build probe request: %w", err)
	}
	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	latency := float64(elapsed) / float64(time.Millisecond)
	if err != nil {
		return Result{Metrics: types.ComponentMetrics{Latency: latency, ErrorRate: 100}}, nil
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{Metrics: types.ComponentMetrics{Latency: latency, ErrorRate: 100}}, nil
	}
	score := 100.0
	if elapsed > slow {
		score = 85
	}
	return Result{
		Score: score,
		Metrics: types.ComponentMetrics{
			Availability: 100,
			Latency:      latency,
			Throughput:   1000 / math.Max(latency, 1),
		},
	}, nil
}
