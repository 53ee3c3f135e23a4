package server

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/chaos-io/bgremover/rembg"
)

const defaultProbeTimeout = 5 * time.Second

// ServiceStatus is the outcome of the latest probe of the remote service.
type ServiceStatus struct {
	Available bool      `json:"available"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
}

// HealthMonitor periodically probes the background-removal service. It only
// reports availability; processing is never blocked on it.
type HealthMonitor struct {
	prober  rembg.Prober
	cron    *cron.Cron
	timeout time.Duration
	log     *zap.Logger

	mu     sync.RWMutex
	status ServiceStatus
}

// NewHealthMonitor schedules probes with a standard cron spec. An empty
// schedule disables periodic probing; Check can still be called directly.
func NewHealthMonitor(prober rembg.Prober, schedule string, log *zap.Logger) (*HealthMonitor, error) {
	if log == nil {
		log = zap.NewNop()
	}
	m := &HealthMonitor{
		prober:  prober,
		timeout: defaultProbeTimeout,
		log:     log.Named("health"),
	}

	if schedule == "" {
		return m, nil
	}
	m.cron = cron.New()
	if _, err := m.cron.AddFunc(schedule, func() {
		m.Check(context.Background())
	}); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *HealthMonitor) Check(ctx context.Context) ServiceStatus {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	st := ServiceStatus{Available: true, CheckedAt: time.Now()}
	if err := m.prober.Health(ctx); err != nil {
		st.Available = false
		st.Error = err.Error()
	}

	m.mu.Lock()
	prev := m.status
	m.status = st
	m.mu.Unlock()

	if prev.Available != st.Available || prev.CheckedAt.IsZero() {
		m.log.Info("service availability changed",
			zap.Bool("available", st.Available),
			zap.String("error", st.Error))
	}
	return st
}

func (m *HealthMonitor) Status() ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *HealthMonitor) Start() {
	if m.cron != nil {
		m.cron.Start()
	}
}

// Stop halts the schedule and waits for a running probe to finish.
func (m *HealthMonitor) Stop() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
}
