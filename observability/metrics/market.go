package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"vemarket/core/events"
	"vemarket/core/types"
	"vemarket/native/market"
)

type MarketMetrics struct {
	listingsCreated *prometheus.CounterVec
	offersCreated   prometheus.Counter
	settlements     *prometheus.CounterVec
	feeVolume       *prometheus.CounterVec
	cancellations   *prometheus.CounterVec
}

var (
	marketOnce     sync.Once
	marketRegistry *MarketMetrics
)

func Market() *MarketMetrics {
	marketOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			listingsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_listings_created_total",
				Help: "Count of listings created by payment asset.",
			}, []string{"asset"}),
			offersCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "market_offers_created_total",
				Help: "Count of offers created.",
			}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_settlements_total",
				Help: "Count of successful settlements by route.",
			}, []string{"route"}),
			feeVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_fee_volume",
				Help: "Cumulative protocol fees collected by asset, in smallest units.",
			}, []string{"asset"}),
			cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_cancellations_total",
				Help: "Count of cancelled listings and offers by kind.",
			}, []string{"kind"}),
		}
		prometheus.MustRegister(
			marketRegistry.listingsCreated,
			marketRegistry.offersCreated,
			marketRegistry.settlements,
			marketRegistry.feeVolume,
			marketRegistry.cancellations,
		)
	})
	return marketRegistry
}

func (m *MarketMetrics) ObserveListingCreated(asset string) {
	if m == nil {
		return
	}
	if asset == "" {
		asset = "unknown"
	}
	m.listingsCreated.WithLabelValues(asset).Inc()
}

func (m *MarketMetrics) ObserveOfferCreated() {
	if m == nil {
		return
	}
	m.offersCreated.Inc()
}

func (m *MarketMetrics) ObserveSettlement(route string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.settlements.WithLabelValues(route).Inc()
}

func (m *MarketMetrics) ObserveFee(asset string, fee float64) {
	if m == nil || fee <= 0 {
		return
	}
	if asset == "" {
		asset = "unknown"
	}
	m.feeVolume.WithLabelValues(asset).Add(fee)
}

func (m *MarketMetrics) ObserveCancellation(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.cancellations.WithLabelValues(kind).Inc()
}

// MarketEmitter bridges market engine events to the prometheus counters. It
// implements events.Emitter and is typically composed into an events.Fanout
// alongside an indexer sink.
type MarketEmitter struct {
	metrics *MarketMetrics
}

// NewMarketEmitter returns an emitter feeding the shared market registry.
func NewMarketEmitter() *MarketEmitter {
	return &MarketEmitter{metrics: Market()}
}

// Emit implements events.Emitter.
func (e *MarketEmitter) Emit(evt events.Event) {
	if e == nil || evt == nil {
		return
	}
	switch evt.EventType() {
	case market.EventTypeListingCreated:
		e.metrics.ObserveListingCreated(attribute(evt, "paymentAsset"))
	case market.EventTypeOfferCreated:
		e.metrics.ObserveOfferCreated()
	case market.EventTypeListingSold, market.EventTypeOfferFilled:
		e.metrics.ObserveSettlement(attribute(evt, "route"))
		e.observeFee(evt)
	case market.EventTypeExternalPurchase:
		e.metrics.ObserveSettlement("external")
	case market.EventTypeListingCancelled:
		e.metrics.ObserveCancellation("listing")
	case market.EventTypeOfferCancelled:
		e.metrics.ObserveCancellation("offer")
	}
}

func (e *MarketEmitter) observeFee(evt events.Event) {
	raw := attribute(evt, "fee")
	if raw == "" {
		return
	}
	fee, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return
	}
	e.metrics.ObserveFee(attribute(evt, "paymentAsset"), fee)
}

func attribute(evt events.Event, key string) string {
	payload, ok := evt.(interface{ Event() *types.Event })
	if !ok || payload.Event() == nil {
		return ""
	}
	return payload.Event().Attributes[key]
}
