package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "octgrav_steps_total",
			Help: "Global steps completed",
		},
		[]string{"rank"},
	)

	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "octgrav_step_duration_seconds",
			Help:    "Wall time of one global step",
			Buckets: prometheus.ExponentialBuckets(1e-4, 2, 18),
		},
		[]string{"rank"},
	)

	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "octgrav_phase_duration_seconds",
			Help:    "Wall time spent per controller phase",
			Buckets: prometheus.ExponentialBuckets(1e-5, 2, 20),
		},
		[]string{"rank", "phase"},
	)

	ExchangePasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "octgrav_exchange_passes_total",
			Help: "Particle exchange passes",
		},
		[]string{"rank"},
	)

	ExchangeOverflows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "octgrav_exchange_overflows_total",
			Help: "Exchanges in which some receive buffer overflowed",
		},
		[]string{"rank"},
	)

	ParticlesMigrated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "octgrav_particles_migrated_total",
			Help: "Particles moved between ranks",
		},
		[]string{"rank"},
	)

	TreeRebuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "octgrav_tree_rebuilds_total",
			Help: "Octree rebuilds",
		},
		[]string{"rank"},
	)

	OversizedLeaves = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "octgrav_oversized_leaves",
			Help: "Leaves at maximum depth holding more than the bucket size",
		},
		[]string{"rank"},
	)

	Interactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "octgrav_interactions_total",
			Help: "Force interactions evaluated",
		},
		[]string{"rank"},
	)

	ParticlesKilled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "octgrav_particles_killed_total",
			Help: "Particles removed beyond the kill distance",
		},
		[]string{"rank"},
	)

	LocalParticles = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "octgrav_local_particles",
			Help: "Particles owned by the rank",
		},
		[]string{"rank"},
	)

	DeviceMemory = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "octgrav_device_memory_bytes",
			Help: "Device bytes held by the rank",
		},
		[]string{"rank"},
	)

	LoadImbalance = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "octgrav_load_imbalance",
			Help: "Max over mean of per-rank interaction work",
		},
	)

	TotalEnergy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "octgrav_total_energy",
			Help: "Kinetic plus potential energy",
		},
	)
)
