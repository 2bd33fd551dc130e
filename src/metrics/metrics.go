// Package metrics exposes the node's pools, tasks and ledger height to
// Prometheus.
package metrics

import (
	"net/http"

	evbus "github.com/asaskevich/EventBus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mosaicnetworks/ledgerd/src/blockchain"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
)

const namespace = "ledgerd"

// Chain is the ledger being observed.
type Chain interface {
	Height() uint32
	HeaderHeight() uint32
	Events() evbus.BusSubscriber
}

// Pool is the memory pool.
type Pool interface {
	Len() int
}

// Network is the local node.
type Network interface {
	ConnectedCount() int
	UnconnectedCount() int
	PendingTasks() int
}

// Metrics owns a registry with gauges sampled from the components at scrape
// time, and counters fed by ledger events.
type Metrics struct {
	registry *prometheus.Registry
	chain    Chain

	relayResults *prometheus.CounterVec
	blocks       prometheus.Counter

	onRelayResult    func(ledger.Inventory, blockchain.RelayResult)
	onBlockPersisted func(*ledger.Block)
}

// NewMetrics registers the collectors and subscribes to chain events.
func NewMetrics(chain Chain, pool Pool, network Network) (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		chain:    chain,
		relayResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "relay_results_total",
			Help:      "Items submitted to the ledger, by type and result.",
		}, []string{"type", "result"}),
		blocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "blocks_persisted_total",
			Help:      "Blocks applied since start.",
		}),
	}

	gauges := []prometheus.Collector{
		gaugeFunc("ledger", "height", "Height of the block index.", func() float64 {
			return float64(chain.Height())
		}),
		gaugeFunc("ledger", "header_height", "Height of the header index.", func() float64 {
			return float64(chain.HeaderHeight())
		}),
		gaugeFunc("ledger", "mempool_transactions", "Transactions in the memory pool.", func() float64 {
			return float64(pool.Len())
		}),
		gaugeFunc("p2p", "connected_peers", "Open connections, handshaking or ready.", func() float64 {
			return float64(network.ConnectedCount())
		}),
		gaugeFunc("p2p", "unconnected_peers", "Candidate endpoints.", func() float64 {
			return float64(network.UnconnectedCount())
		}),
		gaugeFunc("p2p", "pending_tasks", "Items waiting to be fetched from peers.", func() float64 {
			return float64(network.PendingTasks())
		}),
	}

	for _, c := range append(gauges, m.relayResults, m.blocks) {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}

	m.onRelayResult = func(inv ledger.Inventory, res blockchain.RelayResult) {
		m.relayResults.WithLabelValues(inv.Type.String(), res.Reason.String()).Inc()
	}
	m.onBlockPersisted = func(*ledger.Block) {
		m.blocks.Inc()
	}

	events := chain.Events()
	if err := events.Subscribe(blockchain.TopicRelayResult, m.onRelayResult); err != nil {
		return nil, err
	}
	if err := events.Subscribe(blockchain.TopicBlockPersisted, m.onBlockPersisted); err != nil {
		return nil, err
	}

	return m, nil
}

func gaugeFunc(subsystem, name, help string, f func() float64) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, f)
}

// Registry ...
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Close stops listening to chain events.
func (m *Metrics) Close() {
	events := m.chain.Events()
	_ = events.Unsubscribe(blockchain.TopicRelayResult, m.onRelayResult)
	_ = events.Unsubscribe(blockchain.TopicBlockPersisted, m.onBlockPersisted)
}
