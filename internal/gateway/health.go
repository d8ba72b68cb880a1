package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"inshop.app/internal/obs"
)

// DefaultHealthTimeout bounds each backend probe.
const DefaultHealthTimeout = 3 * time.Second

const (
	StatusUp   = "up"
	StatusDown = "down"
)

// ServiceHealth is the point-in-time state of one backend.
type ServiceHealth struct {
	Name         string `json:"name"`
	Status       string `json:"status"`
	URL          string `json:"url"`
	ResponseTime string `json:"responseTime,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Report is the aggregated health view.
type Report struct {
	Gateway       string          `json:"gateway"`
	Timestamp     time.Time       `json:"timestamp"`
	AllServicesUp bool            `json:"allServicesUp"`
	Services      []ServiceHealth `json:"services"`
}

// Aggregator probes every backend independently and concurrently.
type Aggregator struct {
	services []Service
	client   *http.Client
	timeout  time.Duration
	now      func() time.Time
}

// NewAggregator returns an Aggregator over services. rt may be nil.
func NewAggregator(services []Service, timeout time.Duration, rt http.RoundTripper) *Aggregator {
	if timeout <= 0 {
		timeout = DefaultHealthTimeout
	}
	return &Aggregator{
		services: append([]Service(nil), services...),
		client:   &http.Client{Transport: rt, Timeout: timeout},
		timeout:  timeout,
		now:      time.Now,
	}
}

// Check probes all services. A down backend is reported in its own entry;
// the call itself never fails.
func (a *Aggregator) Check(ctx context.Context) Report {
	results := make([]ServiceHealth, len(a.services))
	var wg sync.WaitGroup
	for i, svc := range a.services {
		wg.Add(1)
		go func(i int, svc Service) {
			defer wg.Done()
			results[i] = a.probe(ctx, svc)
		}(i, svc)
	}
	wg.Wait()

	allUp := true
	for _, r := range results {
		if r.Status != StatusUp {
			allUp = false
		}
	}
	return Report{
		Gateway:       StatusUp,
		Timestamp:     a.now().UTC(),
		AllServicesUp: allUp,
		Services:      results,
	}
}

func (a *Aggregator) probe(ctx context.Context, svc Service) ServiceHealth {
	out := ServiceHealth{Name: svc.Name, URL: svc.URL, Status: StatusDown}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc.URL+svc.HealthPath, nil)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		out.Error = err.Error()
		obs.Logger().Warn("service down", zap.String("service", svc.Name), zap.Error(err))
		return out
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	elapsed := time.Since(start)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		out.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		obs.Logger().Warn("service down", zap.String("service", svc.Name), zap.Int("status", resp.StatusCode))
		return out
	}
	out.Status = StatusUp
	out.ResponseTime = strings.TrimSpace(resp.Header.Get("X-Response-Time"))
	if out.ResponseTime == "" {
		out.ResponseTime = strconv.FormatInt(elapsed.Milliseconds(), 10) + "ms"
	}
	return out
}
