package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MarketMetrics tracks settlement activity across the marketplace and the
// subscription pass engine.
type MarketMetrics struct {
	salesRedeemed   prometheus.Counter
	bidsAccepted    prometheus.Counter
	unitsMinted     prometheus.Counter
	passActivations prometheus.Counter
	passExtensions  prometheus.Counter
	settledValue    *prometheus.CounterVec
}

var (
	marketOnce     sync.Once
	marketRegistry *MarketMetrics
)

// Market returns the process-wide settlement metrics registry.
func Market() *MarketMetrics {
	marketOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			salesRedeemed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "market_sales_redeemed_total",
				Help: "Count of sale vouchers settled via direct redemption.",
			}),
			bidsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "market_bids_accepted_total",
				Help: "Count of auction/bid pairs matched and settled.",
			}),
			unitsMinted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "market_units_minted_total",
				Help: "Units of content tokens minted through settlement.",
			}),
			passActivations: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "pass_activations_total",
				Help: "Count of subscription passes minted.",
			}),
			passExtensions: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "pass_extensions_total",
				Help: "Count of subscription pass extensions.",
			}),
			settledValue: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_settled_value_total",
				Help: "Value settled through the engines by payment rail.",
			}, []string{"rail"}),
		}
		prometheus.MustRegister(
			marketRegistry.salesRedeemed,
			marketRegistry.bidsAccepted,
			marketRegistry.unitsMinted,
			marketRegistry.passActivations,
			marketRegistry.passExtensions,
			marketRegistry.settledValue,
		)
	})
	return marketRegistry
}

// SaleRedeemed records a direct redemption settling quantity units for amount.
func (m *MarketMetrics) SaleRedeemed(rail string, quantity, amount *big.Int) {
	if m == nil {
		return
	}
	m.salesRedeemed.Inc()
	m.addUnits(quantity)
	m.addValue(rail, amount)
}

// BidAccepted records one matched auction/bid settlement for amount.
func (m *MarketMetrics) BidAccepted(rail string, amount *big.Int) {
	if m == nil {
		return
	}
	m.bidsAccepted.Inc()
	m.unitsMinted.Inc()
	m.addValue(rail, amount)
}

// PassActivated records count freshly minted subscription passes for amount.
func (m *MarketMetrics) PassActivated(rail string, count uint64, amount *big.Int) {
	if m == nil {
		return
	}
	m.passActivations.Add(float64(count))
	m.addValue(rail, amount)
}

// PassExtended records one pass extension settlement for amount.
func (m *MarketMetrics) PassExtended(rail string, amount *big.Int) {
	if m == nil {
		return
	}
	m.passExtensions.Inc()
	m.addValue(rail, amount)
}

func (m *MarketMetrics) addUnits(quantity *big.Int) {
	if quantity == nil || quantity.Sign() <= 0 {
		return
	}
	units, _ := new(big.Float).SetInt(quantity).Float64()
	m.unitsMinted.Add(units)
}

func (m *MarketMetrics) addValue(rail string, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	value, _ := new(big.Float).SetInt(amount).Float64()
	m.settledValue.WithLabelValues(rail).Add(value)
}
