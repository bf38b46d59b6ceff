package metrics

import (
	"math"
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"synthchain/native/decmath"
)

type CollateralMetrics struct {
	feeIncome      *prometheus.CounterVec
	lockedTotal    *prometheus.GaugeVec
	exposure       *prometheus.GaugeVec
	aggregateDebt  prometheus.Gauge
	interestIndex  *prometheus.GaugeVec
	staleRateSkips prometheus.Counter
}

var (
	collateralOnce     sync.Once
	collateralRegistry *CollateralMetrics
)

// Collateral returns the singleton registry for the loan engines and the
// debt aggregator.
func Collateral() *CollateralMetrics {
	collateralOnce.Do(func() {
		collateralRegistry = &CollateralMetrics{
			feeIncome: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "collateral_fee_income_total",
				Help: "Realised fee income per currency, in whole units.",
			}, []string{"currency"}),
			lockedTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "collateral_locked_total",
				Help: "Collateral locked per engine, in whole units.",
			}, []string{"engine"}),
			exposure: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "collateral_exposure",
				Help: "Outstanding principal per currency and side.",
			}, []string{"currency", "side"}),
			aggregateDebt: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "collateral_aggregate_debt",
				Help: "Total debt value across every currency, in the unit of account.",
			}),
			interestIndex: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "collateral_interest_index",
				Help: "Cumulative interest index per currency and side.",
			}, []string{"currency", "side"}),
			staleRateSkips: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "collateral_stale_rate_skips_total",
				Help: "Metric refreshes skipped because a price was stale or flagged.",
			}),
		}
		prometheus.MustRegister(
			collateralRegistry.feeIncome,
			collateralRegistry.lockedTotal,
			collateralRegistry.exposure,
			collateralRegistry.aggregateDebt,
			collateralRegistry.interestIndex,
			collateralRegistry.staleRateSkips,
		)
	})
	return collateralRegistry
}

// ObserveFee adds realised fee income. Amounts are 18-decimal fixed point.
func (m *CollateralMetrics) ObserveFee(currency string, amount *big.Int) {
	if m == nil || amount == nil {
		return
	}
	m.feeIncome.WithLabelValues(currency).Add(toUnits(amount))
}

// SetLocked updates an engine's locked-collateral gauge.
func (m *CollateralMetrics) SetLocked(engine string, total *big.Int) {
	if m == nil {
		return
	}
	m.lockedTotal.WithLabelValues(engine).Set(toUnits(total))
}

// SetExposure updates one side of a currency's exposure gauge.
func (m *CollateralMetrics) SetExposure(currency, side string, total *big.Int) {
	if m == nil {
		return
	}
	m.exposure.WithLabelValues(currency, side).Set(toUnits(total))
}

// SetAggregateDebt updates the system-wide debt gauge.
func (m *CollateralMetrics) SetAggregateDebt(value *big.Int) {
	if m == nil {
		return
	}
	m.aggregateDebt.Set(toUnits(value))
}

// SetInterestIndex updates a cumulative index gauge.
func (m *CollateralMetrics) SetInterestIndex(currency, side string, index *big.Int) {
	if m == nil {
		return
	}
	m.interestIndex.WithLabelValues(currency, side).Set(toUnits(index))
}

// RecordStaleRateSkip counts a refresh skipped on an invalid price.
func (m *CollateralMetrics) RecordStaleRateSkip() {
	if m == nil {
		return
	}
	m.staleRateSkips.Inc()
}

// toUnits converts 18-decimal fixed point into a float for dashboards.
// Precision loss here is acceptable; ledger math never goes through floats.
func toUnits(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Rat).SetFrac(v, decmath.Unit).Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	return f
}
