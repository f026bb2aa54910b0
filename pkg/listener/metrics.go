package listener

import "github.com/rcrowley/go-metrics"

// Metrics holds the counters each listener increments. A nil *Metrics
// is valid — every method is a no-op on a nil receiver, so wiring
// metrics is optional.
type Metrics struct {
	ReceivedHTTPS metrics.Counter
	ProxiedHTTPS  metrics.Counter
	RejectedHTTPS metrics.Counter

	ReceivedHTTP metrics.Counter
	ProxiedHTTP  metrics.Counter
	RejectedHTTP metrics.Counter

	ReceivedQUIC  metrics.Counter
	DecryptedQUIC metrics.Counter
	DroppedQUIC   metrics.Counter
	ProxiedQUIC   metrics.Counter
	RejectedQUIC  metrics.Counter
}

// NewMetrics registers a fresh set of counters under the default
// go-metrics registry, named the way the rest of the pack names flow
// counters.
func NewMetrics() *Metrics {
	return &Metrics{
		ReceivedHTTPS: metrics.NewRegisteredCounter("proxy.https.received", nil),
		ProxiedHTTPS:  metrics.NewRegisteredCounter("proxy.https.proxied", nil),
		RejectedHTTPS: metrics.NewRegisteredCounter("proxy.https.rejected", nil),

		ReceivedHTTP: metrics.NewRegisteredCounter("proxy.http.received", nil),
		ProxiedHTTP:  metrics.NewRegisteredCounter("proxy.http.proxied", nil),
		RejectedHTTP: metrics.NewRegisteredCounter("proxy.http.rejected", nil),

		ReceivedQUIC:  metrics.NewRegisteredCounter("proxy.quic.received", nil),
		DecryptedQUIC: metrics.NewRegisteredCounter("proxy.quic.decrypted", nil),
		DroppedQUIC:   metrics.NewRegisteredCounter("proxy.quic.dropped", nil),
		ProxiedQUIC:   metrics.NewRegisteredCounter("proxy.quic.proxied", nil),
		RejectedQUIC:  metrics.NewRegisteredCounter("proxy.quic.rejected", nil),
	}
}

func incr(c metrics.Counter) {
	if c != nil {
		c.Inc(1)
	}
}

func (m *Metrics) safeReceivedHTTPS() metrics.Counter {
	if m == nil {
		return nil
	}
	return m.ReceivedHTTPS
}

func (m *Metrics) safeProxiedHTTPS() metrics.Counter {
	if m == nil {
		return nil
	}
	return m.ProxiedHTTPS
}

func (m *Metrics) safeRejectedHTTPS() metrics.Counter {
	if m == nil {
		return nil
	}
	return m.RejectedHTTPS
}

func (m *Metrics) safeReceivedHTTP() metrics.Counter {
	if m == nil {
		return nil
	}
	return m.ReceivedHTTP
}

func (m *Metrics) safeProxiedHTTP() metrics.Counter {
	if m == nil {
		return nil
	}
	return m.ProxiedHTTP
}

func (m *Metrics) safeRejectedHTTP() metrics.Counter {
	if m == nil {
		return nil
	}
	return m.RejectedHTTP
}

func (m *Metrics) safeReceivedQUIC() metrics.Counter {
	if m == nil {
		return nil
	}
	return m.ReceivedQUIC
}

func (m *Metrics) safeDecryptedQUIC() metrics.Counter {
	if m == nil {
		return nil
	}
	return m.DecryptedQUIC
}

func (m *Metrics) safeDroppedQUIC() metrics.Counter {
	if m == nil {
		return nil
	}
	return m.DroppedQUIC
}

func (m *Metrics) safeProxiedQUIC() metrics.Counter {
	if m == nil {
		return nil
	}
	return m.ProxiedQUIC
}

func (m *Metrics) safeRejectedQUIC() metrics.Counter {
	if m == nil {
		return nil
	}
	return m.RejectedQUIC
}
