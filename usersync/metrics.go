package usersync

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the users sync.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	UsersAdded       prometheus.Counter
	UsersRemoved     prometheus.Counter
	DestinationUsers prometheus.Gauge
	MembersSkipped   *prometheus.CounterVec
	Runs             *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UsersAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "users_sync_users_added_total",
			Help: "Total number of users invited and added to the destination group",
		}),
		UsersRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "users_sync_users_removed_total",
			Help: "Total number of users removed from the destination group",
		}),
		DestinationUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "users_sync_destination_users",
			Help: "Destination group size observed by the last successful run, before removals",
		}),
		MembersSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "users_sync_members_skipped_total",
			Help: "Group members left out of a snapshot because they have no mail address or cannot be resolved",
		}, []string{"side"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "users_sync_runs_total",
			Help: "Users sync runs by result",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.UsersAdded, m.UsersRemoved, m.DestinationUsers, m.MembersSkipped, m.Runs)
	}
	return m
}

func (m *Metrics) memberSkipped(side string) {
	if m == nil {
		return
	}
	m.MembersSkipped.WithLabelValues(side).Inc()
}

func (m *Metrics) userAdded() {
	if m == nil {
		return
	}
	m.UsersAdded.Inc()
}

func (m *Metrics) userRemoved() {
	if m == nil {
		return
	}
	m.UsersRemoved.Inc()
}

func (m *Metrics) runSucceeded(report *SyncReport) {
	if m == nil {
		return
	}
	m.DestinationUsers.Set(float64(report.TotalDestinationUsers))
	m.Runs.WithLabelValues("success").Inc()
}

func (m *Metrics) runFailed(kind ErrorKind) {
	if m == nil {
		return
	}
	var result = "unknown"
	if len(kind) > 0 {
		result = string(kind)
	}
	m.Runs.WithLabelValues(result).Inc()
}
