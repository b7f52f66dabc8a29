// Package metrics exposes the security and maintenance counters operators alert on.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Recorder struct {
	securityEvents     *prometheus.CounterVec
	blacklistFailOpen  prometheus.Counter
	maintenanceDeleted *prometheus.CounterVec
	tokensIssued       prometheus.Counter
	tokensRotated      prometheus.Counter
}

// NewRecorder registers the counters on reg. A nil reg keeps them unregistered.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		securityEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "token_security_events_total",
			Help: "Refresh or access token events that may indicate theft, by kind and reason.",
		}, []string{"kind", "reason"}),
		blacklistFailOpen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "token_blacklist_fail_open_total",
			Help: "Blacklist lookups that failed and were treated as not blacklisted.",
		}),
		maintenanceDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "token_maintenance_deleted_total",
			Help: "Rows removed by retention cleanup, by table.",
		}, []string{"table"}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "token_pairs_issued_total",
			Help: "Token pairs issued at login.",
		}),
		tokensRotated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "token_refresh_rotations_total",
			Help: "Successful refresh token rotations.",
		}),
	}

	if reg != nil {
		reg.MustRegister(r.securityEvents, r.blacklistFailOpen, r.maintenanceDeleted, r.tokensIssued, r.tokensRotated)
	}
	return r
}

func (r *Recorder) SecurityEvent(kind, reason string) {
	if r == nil {
		return
	}
	r.securityEvents.WithLabelValues(kind, reason).Inc()
}

func (r *Recorder) BlacklistFailOpen() {
	if r == nil {
		return
	}
	r.blacklistFailOpen.Inc()
}

func (r *Recorder) MaintenanceDeleted(table string, rows int64) {
	if r == nil || rows <= 0 {
		return
	}
	r.maintenanceDeleted.WithLabelValues(table).Add(float64(rows))
}

func (r *Recorder) TokenIssued() {
	if r == nil {
		return
	}
	r.tokensIssued.Inc()
}

func (r *Recorder) TokenRotated() {
	if r == nil {
		return
	}
	r.tokensRotated.Inc()
}
