package sim_test

import (
	"context"
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/octgrav/internal/config"
	"github.com/san-kum/octgrav/internal/dynamo"
	"github.com/san-kum/octgrav/internal/initcond"
	"github.com/san-kum/octgrav/internal/metrics"
	"github.com/san-kum/octgrav/internal/sim"
)

func testConfig(ranks int) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Ranks = ranks
	cfg.Bodies = 256
	cfg.Dt = 1.0 / 64
	cfg.EndTime = 0.125
	cfg.Device = config.DeviceConfig{Name: "serial"}
	cfg.Gravity.Theta = 0.3
	cfg.Tree.LeafSize = 4
	cfg.Tree.RebuildInterval = 2
	cfg.Domain.SampleSize = 256
	cfg.Domain.DecomposeInterval = 4
	cfg.Exchange.Buffer = 16
	return cfg
}

func withStray(n int) initcond.Dataset {
	ds := initcond.Plummer(n, 7)
	bodies := append([]dynamo.Body{}, ds.Bodies...)
	bodies = append(bodies, dynamo.Body{ID: 1 << 30, Mass: 1e-3, Pos: r3.Vec{X: 100}})
	return initcond.Dataset{Bodies: bodies, Total: len(bodies), First: len(bodies)}
}

type recorder struct {
	every int
	steps []int
	sizes []int
	order []bool
}

func (r *recorder) Due(step int) bool { return step%r.every == 0 }

func (r *recorder) Snapshot(step int, _ float64, bodies []dynamo.Body) error {
	sorted := true
	for i := 1; i < len(bodies); i++ {
		sorted = sorted && bodies[i-1].ID < bodies[i].ID
	}
	r.steps = append(r.steps, step)
	r.sizes = append(r.sizes, len(bodies))
	r.order = append(r.order, sorted)
	return nil
}

// frames keeps every snapshot it is handed.
type frames struct {
	times  []float64
	bodies [][]dynamo.Body
}

func (f *frames) Due(int) bool { return true }

func (f *frames) Snapshot(_ int, t float64, bodies []dynamo.Body) error {
	f.times = append(f.times, t)
	f.bodies = append(f.bodies, bodies)
	return nil
}

func (f *frames) find(frame int, id int64) (dynamo.Body, bool) {
	for _, b := range f.bodies[frame] {
		if b.ID == id {
			return b, true
		}
	}
	return dynamo.Body{}, false
}

func run(cfg *config.Config, ds initcond.Dataset, setup ...func(*sim.Simulation)) (*sim.Result, error) {
	s, err := sim.New(cfg, nil)
	Expect(err).NotTo(HaveOccurred())
	for _, f := range setup {
		f(s)
	}
	return s.Run(context.Background(), ds)
}

var _ = Describe("Simulation", func() {
	Describe("configuration", func() {
		It("rejects out-of-range parameters", func() {
			cfg := testConfig(1)
			cfg.Gravity.Theta = 0
			_, err := sim.New(cfg, nil)
			Expect(errors.Is(err, dynamo.ErrParameterBounds)).To(BeTrue())
		})
	})

	Describe("a circular binary", func() {
		It("conserves energy over one orbit", func() {
			cfg := testConfig(1)
			cfg.Gravity.Eps = 0
			cfg.Dt = 1.0 / 256
			period := 2 * math.Pi * 0.5 / math.Sqrt(0.5)
			cfg.EndTime = period

			drift := metrics.NewEnergyDrift()
			res, err := run(cfg, initcond.TwoBody(1, math.Sqrt(0.5)), func(s *sim.Simulation) {
				s.AddMetric(drift)
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Final.Count).To(Equal(2))
			Expect(res.Time).To(BeNumerically("~", period, cfg.Dt))
			Expect(drift.Value()).To(BeNumerically("<", 1e-4))
			Expect(res.Metrics).To(HaveKey("energy_drift"))
			Expect(res.Final.Momentum.X).To(BeNumerically("~", 0, 1e-12))
			Expect(res.Final.Momentum.Y).To(BeNumerically("~", 0, 1e-12))
		})
	})

	Describe("two particles at rest", func() {
		for _, ranks := range []int{1, 2} {
			It("accelerate toward each other along x", func() {
				cfg := testConfig(ranks)
				cfg.Dt = 1.0 / 16
				cfg.EndTime = cfg.Dt
				cfg.Gravity.Eps = 0.1
				cfg.Gravity.Theta = 0.5
				ds := initcond.Dataset{
					Bodies: []dynamo.Body{
						{ID: 0, Mass: 1, Pos: r3.Vec{X: -1}, Class: dynamo.ClassFirst},
						{ID: 1, Mass: 1, Pos: r3.Vec{X: 1}, Class: dynamo.ClassFirst},
					},
					Total: 2,
					First: 2,
				}

				snaps := &frames{}
				res, err := run(cfg, ds, func(s *sim.Simulation) { s.SetSnapshotter(snaps) })
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Steps).To(Equal(1))
				Expect(res.Initial.Mass).To(Equal(2.0))
				Expect(res.Final.Mass).To(Equal(2.0))
				Expect(snaps.bodies).To(HaveLen(2))

				left, right := snaps.bodies[1][0], snaps.bodies[1][1]
				for _, b := range []dynamo.Body{left, right} {
					Expect(b.Vel.Y).To(BeZero())
					Expect(b.Vel.Z).To(BeZero())
					Expect(b.Pos.Y).To(BeZero())
					Expect(b.Pos.Z).To(BeZero())
				}
				Expect(left.Vel.X).To(BeNumerically("~", 0.015574, 1e-6))
				Expect(right.Vel.X).To(BeNumerically("~", -left.Vel.X, 1e-12))
				Expect(left.Pos.X).To(BeNumerically(">", -1))
				Expect(right.Pos.X).To(BeNumerically("~", -left.Pos.X, 1e-12))
				Expect(res.Final.Momentum.X).To(BeNumerically("~", 0, 1e-12))
			})
		}
	})

	Describe("a single rank", func() {
		It("never exchanges or re-decomposes", func() {
			res, err := run(testConfig(1), initcond.Plummer(128, 3))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Migrated).To(BeZero())
			Expect(res.Decompositions).To(BeZero())
			Expect(res.Steps).To(Equal(8))
			Expect(res.Rebuilds).To(Equal(5))
		})
	})

	Describe("multiple ranks", func() {
		It("conserve particles and agree with a single rank", func() {
			ds := initcond.Plummer(256, 11)

			single, err := run(testConfig(1), ds)
			Expect(err).NotTo(HaveOccurred())
			multi, err := run(testConfig(3), ds)
			Expect(err).NotTo(HaveOccurred())

			Expect(multi.Final.Count).To(Equal(256))
			Expect(multi.Final.Mass).To(BeNumerically("~", single.Initial.Mass, 1e-12))
			Expect(multi.Steps).To(Equal(single.Steps))
			Expect(multi.Migrated).To(BeNumerically(">", 0))
			Expect(multi.Decompositions).To(BeNumerically(">=", 1))
			Expect(multi.Final.Total()).To(BeNumerically("~", single.Final.Total(), 1e-2*math.Abs(single.Final.Total())))
		})

		It("advance on individual block timesteps", func() {
			cfg := testConfig(2)
			cfg.Timestep = config.TimestepConfig{Individual: true, Eta: 0.05, MaxLevel: 3}
			res, err := run(cfg, initcond.Plummer(128, 5))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Final.Count).To(Equal(128))
			Expect(res.Time).To(BeNumerically("~", cfg.EndTime, 1e-12))
			Expect(res.Steps).To(BeNumerically(">=", 8))
		})

		It("report every particle at the snapshot time between block boundaries", func() {
			cfg := testConfig(2)
			cfg.Dt = 1.0 / 16
			cfg.EndTime = 1.0 / 16
			cfg.Gravity.Eps = 0.05
			cfg.Timestep = config.TimestepConfig{Individual: true, Eta: 0.05, MaxLevel: 4}
			binary := initcond.TwoBody(0.1, 1)
			coasting := dynamo.Body{ID: 2, Mass: 1e-6, Pos: r3.Vec{X: 100}, Vel: r3.Vec{Y: 1}, Class: dynamo.ClassFirst}
			ds := initcond.Dataset{Bodies: append(binary.Bodies, coasting), Total: 3, First: 3}

			snaps := &frames{}
			var synced []bool
			res, err := run(cfg, ds, func(s *sim.Simulation) {
				s.SetSnapshotter(snaps)
				s.AddObserver(sim.ObserverFunc(func(d metrics.Diagnostics) error {
					synced = append(synced, d.Synchronized)
					return nil
				}))
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Steps).To(BeNumerically(">", 1))
			Expect(snaps.times).To(HaveLen(res.Steps + 1))

			for k, t := range snaps.times {
				b, ok := snaps.find(k, 2)
				Expect(ok).To(BeTrue())
				Expect(b.Pos.Y).To(BeNumerically("~", t, 1e-6), "frame %d at t=%g", k, t)
				Expect(b.Vel.Y).To(BeNumerically("~", 1, 1e-6))
			}

			Expect(synced[0]).To(BeTrue())
			Expect(synced[len(synced)-1]).To(BeTrue())
			Expect(synced).To(ContainElement(BeFalse()))
			Expect(res.Final.Synchronized).To(BeTrue())
		})

		It("emit globally ordered snapshots of completed steps", func() {
			rec := &recorder{every: 4}
			res, err := run(testConfig(2), initcond.Plummer(64, 9), func(s *sim.Simulation) {
				s.SetSnapshotter(rec)
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Snapshots).To(Equal(3))
			Expect(rec.steps).To(Equal([]int{0, 4, 8}))
			Expect(rec.sizes).To(HaveEach(64))
			Expect(rec.order).To(HaveEach(BeTrue()))
		})
	})

	Describe("culling", func() {
		for _, ranks := range []int{1, 2} {
			It("removes particles beyond the kill distance", func() {
				cfg := testConfig(ranks)
				cfg.Cull.KillDistance = 20
				ds := withStray(64)

				var counts []int
				snaps := &frames{}
				res, err := run(cfg, ds, func(s *sim.Simulation) {
					s.SetSnapshotter(snaps)
					s.AddObserver(sim.ObserverFunc(func(d metrics.Diagnostics) error {
						counts = append(counts, d.Count)
						return nil
					}))
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(counts[0]).To(Equal(65))
				Expect(counts[1]).To(Equal(64))

				farthest := ds.Bodies[0]
				for _, b := range ds.Bodies {
					if r3.Norm(b.Pos) > r3.Norm(farthest.Pos) {
						farthest = b
					}
				}
				_, before := snaps.find(0, farthest.ID)
				_, after := snaps.find(1, farthest.ID)
				Expect(before).To(BeTrue())
				Expect(after).To(BeFalse())
				Expect(snaps.bodies[1]).To(HaveLen(64))

				Expect(res.Final.Count).To(Equal(64))
				Expect(res.Killed).To(Equal(1))
				Expect(res.Final.Removed).To(Equal(1))
				Expect(res.Final.Mass).To(BeNumerically("~", res.Initial.Mass-1e-3, 1e-12))
			})
		}

		It("only flags particles beyond the removal distance", func() {
			cfg := testConfig(2)
			cfg.Cull.RemovalDistance = 20
			res, err := run(cfg, withStray(64))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Final.Count).To(Equal(65))
			Expect(res.Final.Escaped).To(Equal(1))
		})
	})

	Describe("failures", func() {
		It("stops on a canceled context", func() {
			s, err := sim.New(testConfig(2), nil)
			Expect(err).NotTo(HaveOccurred())
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			_, err = s.Run(ctx, initcond.Plummer(64, 1))
			Expect(errors.Is(err, dynamo.ErrContextCanceled)).To(BeTrue())
			var se *dynamo.SimulationError
			Expect(errors.As(err, &se)).To(BeTrue())
		})

		It("propagates observer errors", func() {
			boom := errors.New("disk full")
			_, err := run(testConfig(1), initcond.Plummer(32, 1), func(s *sim.Simulation) {
				s.AddObserver(sim.ObserverFunc(func(metrics.Diagnostics) error { return boom }))
			})
			Expect(errors.Is(err, boom)).To(BeTrue())
		})

		It("stops on a non-finite particle state", func() {
			cfg := testConfig(1)
			cfg.Gravity.Eps = 0
			ds := initcond.Dataset{
				Bodies: []dynamo.Body{
					{ID: 0, Mass: 1, Pos: r3.Vec{X: 1}, Class: dynamo.ClassFirst},
					{ID: 1, Mass: 1, Pos: r3.Vec{X: 1}, Class: dynamo.ClassFirst},
				},
				Total: 2,
				First: 2,
			}
			_, err := run(cfg, ds)
			Expect(errors.Is(err, dynamo.ErrInvalidState)).To(BeTrue())
			var se *dynamo.SimulationError
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(se.Step).To(Equal(0))
		})

		It("fails when the device memory limit is exceeded", func() {
			cfg := testConfig(1)
			cfg.Device.MemoryLimit = 1024
			_, err := run(cfg, initcond.Plummer(256, 1))
			Expect(errors.Is(err, dynamo.ErrDeviceMemory)).To(BeTrue())
		})
	})
})

var _ = Describe("Phase", func() {
	DescribeTable("names",
		func(p sim.Phase, want string) {
			Expect(p.String()).To(Equal(want))
		},
		Entry("init", sim.PhaseInit, "init"),
		Entry("exchange", sim.PhaseExchange, "exchange"),
		Entry("terminate", sim.PhaseTerminate, "terminate"),
		Entry("unknown", sim.Phase(42), "phase(42)"),
	)
})
