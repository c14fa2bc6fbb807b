package executor

import (
	"sync"
	"time"
)

// ExecutorMetrics tracks statistics about step and plan execution.
// Counters are cumulative over the executor's lifetime.
type ExecutorMetrics struct {
	StepsAttempted   int
	StepsSucceeded   int
	StepsFailed      int // Steps that exhausted their retries or named an unknown tool
	TotalRetries     int
	TotalDuration    time.Duration
	LongestStepTime  time.Duration
	ShortestStepTime time.Duration

	PlansBuilt     int
	PlansDriven    int
	PlansCompleted int
	PlansFailed    int

	mu sync.Mutex // Protects metrics updates
}

// Copy returns a snapshot without the mutex.
func (m *ExecutorMetrics) Copy() ExecutorMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	shortest := m.ShortestStepTime
	if m.StepsAttempted == 0 {
		shortest = 0
	}
	return ExecutorMetrics{
		StepsAttempted:   m.StepsAttempted,
		StepsSucceeded:   m.StepsSucceeded,
		StepsFailed:      m.StepsFailed,
		TotalRetries:     m.TotalRetries,
		TotalDuration:    m.TotalDuration,
		LongestStepTime:  m.LongestStepTime,
		ShortestStepTime: shortest,
		PlansBuilt:       m.PlansBuilt,
		PlansDriven:      m.PlansDriven,
		PlansCompleted:   m.PlansCompleted,
		PlansFailed:      m.PlansFailed,
	}
}

func (m *ExecutorMetrics) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StepsAttempted, m.StepsSucceeded, m.StepsFailed, m.TotalRetries = 0, 0, 0, 0
	m.TotalDuration, m.LongestStepTime = 0, 0
	m.ShortestStepTime = time.Hour * 24 // Set to a large value initially
	m.PlansBuilt, m.PlansDriven, m.PlansCompleted, m.PlansFailed = 0, 0, 0, 0
}

// recordAttempt counts one tool attempt with its outcome.
func (m *ExecutorMetrics) recordAttempt(duration time.Duration, outcome stepOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StepsAttempted++
	m.TotalDuration += duration
	if duration > m.LongestStepTime {
		m.LongestStepTime = duration
	}
	if duration > 0 && duration < m.ShortestStepTime {
		m.ShortestStepTime = duration
	}

	switch outcome {
	case outcomeSucceeded:
		m.StepsSucceeded++
	case outcomeRetry:
		m.TotalRetries++
	case outcomeFailed:
		m.StepsFailed++
	}
}

func (m *ExecutorMetrics) recordPlan(fn func(m *ExecutorMetrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}
