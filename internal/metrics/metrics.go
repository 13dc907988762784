// Package metrics exposes dexchaind's node health as Prometheus gauges and
// counters, generalizing the teacher's core.HealthLogger (JSON health log +
// prometheus.Registry + /metrics promhttp server) from its ledger/network/
// coin/txpool snapshot into this node's chain.Pipeline/p2p.Node collaborators.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dexchaind/internal/chain"
	"dexchaind/pkg/logging"
)

// PeerCounter reports the current peer count, implemented by internal/p2p.Node.
type PeerCounter interface {
	PeerCount() int
}

// Collector owns the node's Prometheus registry and the gauges/counters fed
// by the block pipeline's applied_block dispatch and a periodic runtime
// snapshot, mirroring the teacher's HealthLogger split between
// RecordMetrics (event-driven) and RunMetricsCollector (ticker-driven).
type Collector struct {
	registry *prometheus.Registry
	peers    PeerCounter

	blockHeight   prometheus.Gauge
	headBlockTime prometheus.Gauge
	peerCount     prometheus.Gauge
	memAlloc      prometheus.Gauge
	goroutines    prometheus.Gauge
	blocksApplied prometheus.Counter
	trxApplied    prometheus.Counter
	forkSwitches  prometheus.Counter
	rejectedTrx   *prometheus.CounterVec
}

// New constructs a Collector with all series registered. peers may be nil
// if no p2p node is running (e.g. a standalone replay tool).
func New(peers PeerCounter) *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		peers:    peers,
		blockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dexchaind_block_height",
			Help: "Current head block number.",
		}),
		headBlockTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dexchaind_head_block_time_seconds",
			Help: "Unix timestamp of the current head block.",
		}),
		peerCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dexchaind_peer_count",
			Help: "Number of connected P2P peers.",
		}),
		memAlloc: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dexchaind_mem_alloc_bytes",
			Help: "Current heap allocation in bytes.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dexchaind_goroutines",
			Help: "Number of running goroutines.",
		}),
		blocksApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dexchaind_blocks_applied_total",
			Help: "Total blocks applied by the pipeline, including fork-switch replays.",
		}),
		trxApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dexchaind_transactions_applied_total",
			Help: "Total transactions committed across all applied blocks.",
		}),
		forkSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dexchaind_fork_switches_total",
			Help: "Total number of preferred-fork switches.",
		}),
		rejectedTrx: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dexchaind_rejected_transactions_total",
			Help: "Transactions rejected before reaching a block, by error kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		c.blockHeight, c.headBlockTime, c.peerCount, c.memAlloc, c.goroutines,
		c.blocksApplied, c.trxApplied, c.forkSwitches, c.rejectedTrx,
	)
	return c
}

// OnAppliedBlock is a chain.Subscriber updating the block-derived series.
func (c *Collector) OnAppliedBlock(ev chain.AppliedBlockEvent) {
	c.blockHeight.Set(float64(ev.BlockNum))
	c.headBlockTime.Set(float64(ev.Block.Header.Timestamp))
	c.blocksApplied.Inc()
	c.trxApplied.Add(float64(len(ev.Block.Transactions)))
	if ev.SwitchedFork {
		c.forkSwitches.Inc()
	}
}

// RecordRejectedTransaction increments the rejection counter for the given
// error kind label (e.g. "structural", "authorization").
func (c *Collector) RecordRejectedTransaction(kind string) {
	c.rejectedTrx.WithLabelValues(kind).Inc()
}

// snapshot updates the peer-count and runtime gauges.
func (c *Collector) snapshot() {
	if c.peers != nil {
		c.peerCount.Set(float64(c.peers.PeerCount()))
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	c.memAlloc.Set(float64(mem.Alloc))
	c.goroutines.Set(float64(runtime.NumGoroutine()))
}

// Run periodically snapshots runtime/peer gauges until ctx is canceled.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	c.snapshot()
	for {
		select {
		case <-ticker.C:
			c.snapshot()
		case <-ctx.Done():
			return
		}
	}
}

// StartServer exposes the registry on addr's /metrics endpoint, returning
// the *http.Server so the caller manages its lifecycle.
func (c *Collector) StartServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Component("metrics").WithError(err).Error("metrics server stopped")
		}
	}()
	return srv
}
