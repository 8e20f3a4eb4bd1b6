// Copyright (c) 2024 VibeFeed
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

package vibefeed

import (
	"context"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/vibefeed/vibefeed/log"
)

// Metrics tracks session-level rates and latencies. All methods are
// nil-safe; a nil *Metrics disables collection.
type Metrics struct {
	registry metrics.Registry

	txSubmitted  metrics.Meter
	txConfirmed  metrics.Meter
	txFailed     metrics.Meter
	txRolledBack metrics.Meter

	loadLatency metrics.Timer
}

func NewMetrics(ctx context.Context) *Metrics {
	registry := metrics.NewRegistry()

	txSubmitted := metrics.NewRegisteredMeter("tx.submitted", registry)
	txConfirmed := metrics.NewRegisteredMeter("tx.confirmed", registry)
	txFailed := metrics.NewRegisteredMeter("tx.failed", registry)
	txRolledBack := metrics.NewRegisteredMeter("tx.rolled_back", registry)

	loadLatency := metrics.NewRegisteredTimer("snapshot.load.latency", registry)

	go func() {
		logger := log.Metrics()

		for {
			select {
			case <-time.After(10 * time.Second):
				logger.Info().
					Int64("tx.submitted", txSubmitted.Count()).
					Int64("tx.confirmed", txConfirmed.Count()).
					Int64("tx.failed", txFailed.Count()).
					Int64("tx.rolled_back", txRolledBack.Count()).
					Float64("tps.submitted", txSubmitted.Rate1()).
					Str("snapshot.load.latency.max.ms", time.Duration(loadLatency.Max()).String()).
					Str("snapshot.load.latency.min.ms", time.Duration(loadLatency.Min()).String()).
					Str("snapshot.load.latency.mean.ms", time.Duration(loadLatency.Mean()).String()).
					Msg("Updated metrics.")
			case <-ctx.Done():
				return
			}
		}
	}()

	return &Metrics{
		registry: registry,

		txSubmitted:  txSubmitted,
		txConfirmed:  txConfirmed,
		txFailed:     txFailed,
		txRolledBack: txRolledBack,

		loadLatency: loadLatency,
	}
}

// Stats is a point-in-time view of the counters for the HTTP API.
type Stats struct {
	TxSubmitted  int64 `json:"tx_submitted"`
	TxConfirmed  int64 `json:"tx_confirmed"`
	TxFailed     int64 `json:"tx_failed"`
	TxRolledBack int64 `json:"tx_rolled_back"`

	LoadLatencyMeanMS float64 `json:"load_latency_mean_ms"`
}

func (m *Metrics) Stats() Stats {
	if m == nil {
		return Stats{}
	}

	return Stats{
		TxSubmitted:  m.txSubmitted.Count(),
		TxConfirmed:  m.txConfirmed.Count(),
		TxFailed:     m.txFailed.Count(),
		TxRolledBack: m.txRolledBack.Count(),

		LoadLatencyMeanMS: m.loadLatency.Mean() / float64(time.Millisecond),
	}
}

func (m *Metrics) Stop() {
	if m == nil {
		return
	}

	m.txSubmitted.Stop()
	m.txConfirmed.Stop()
	m.txFailed.Stop()
	m.txRolledBack.Stop()

	m.loadLatency.Stop()
}

func (m *Metrics) markSubmitted() {
	if m != nil {
		m.txSubmitted.Mark(1)
	}
}

func (m *Metrics) markConfirmed() {
	if m != nil {
		m.txConfirmed.Mark(1)
	}
}

func (m *Metrics) markFailed() {
	if m != nil {
		m.txFailed.Mark(1)
	}
}

func (m *Metrics) markRolledBack() {
	if m != nil {
		m.txRolledBack.Mark(1)
	}
}

type loadSample struct {
	m     *Metrics
	start time.Time
}

func newLoadSample(m *Metrics) loadSample {
	return loadSample{m: m, start: time.Now()}
}

func (s loadSample) done() {
	if s.m != nil {
		s.m.loadLatency.UpdateSince(s.start)
	}
}
