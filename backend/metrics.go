package backend

import (
	"sort"
	"sync"
	"time"
)

// Request kinds tracked by metrics.
const (
	kindPortalToken     = "portal_token"
	kindProjectToken    = "project_token"
	kindDescribePortal  = "describe_portal"
	kindDescribeProject = "describe_project"
)

// kindStats are the counters for one request kind
type kindStats struct {
	requests          uint64
	successes         uint64
	errors            uint64
	totalResponseTime time.Duration
}

// metrics tracks console request statistics
type metrics struct {
	kinds     map[string]*kindStats
	startTime time.Time
	mu        sync.RWMutex
}

// newMetrics creates a new metrics instance
func newMetrics() *metrics {
	return &metrics{
		kinds:     make(map[string]*kindStats),
		startTime: time.Now(),
	}
}

// record records a settled request of the given kind
func (m *metrics) record(kind string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.kinds[kind]
	if !ok {
		s = &kindStats{}
		m.kinds[kind] = s
	}

	s.requests++
	s.totalResponseTime += duration

	if err != nil {
		s.errors++
	} else {
		s.successes++
	}
}

// getStats returns current metrics statistics
func (m *metrics) getStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.kinds))
	for name := range m.kinds {
		names = append(names, name)
	}
	sort.Strings(names)

	var total, totalErrors uint64
	perKind := make(map[string]interface{}, len(names))
	for _, name := range names {
		s := m.kinds[name]
		total += s.requests
		totalErrors += s.errors

		var avgResponseTime, errorRate float64
		if s.requests > 0 {
			avgResponseTime = float64(s.totalResponseTime.Milliseconds()) / float64(s.requests)
			errorRate = float64(s.errors) / float64(s.requests)
		}

		perKind[name] = map[string]interface{}{
			"requests":             s.requests,
			"successes":            s.successes,
			"errors":               s.errors,
			"avg_response_time_ms": avgResponseTime,
			"error_rate":           errorRate,
		}
	}

	var errorRate float64
	if total > 0 {
		errorRate = float64(totalErrors) / float64(total)
	}

	return map[string]interface{}{
		"total_requests": total,
		"total_errors":   totalErrors,
		"error_rate":     errorRate,
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"requests":       perKind,
	}
}

// reset clears all metrics (useful for testing)
func (m *metrics) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.kinds = make(map[string]*kindStats)
}
