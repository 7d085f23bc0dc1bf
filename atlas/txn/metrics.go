/*
 * This file is part of Atlas-DB.
 *
 * Atlas-DB is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of
 * the License, or (at your option) any later version.
 *
 * Atlas-DB is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with Atlas-DB. If not, see <https://www.gnu.org/licenses/>.
 */

package txn

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	coordinatorPrometheusMetrics sync.Once

	coordinatorTransactionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "atlas",
			Subsystem: "txn",
			Name:      "transactions_active",
			Help:      "Number of transactions that hold their locks and have not finished yet.",
		})
	coordinatorTransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atlas",
			Subsystem: "txn",
			Name:      "transactions_total",
			Help:      "Number of transactions, by mode and by how they ended.",
		},
		[]string{"mode", "outcome"})
	coordinatorBeginDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "atlas",
			Subsystem: "txn",
			Name:      "begin_duration_seconds",
			Help:      "Time Begin() spent waiting for the locks of a transaction.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"mode"})
)

func registerMetrics() {
	coordinatorPrometheusMetrics.Do(func() {
		prometheus.MustRegister(coordinatorTransactionsActive)
		prometheus.MustRegister(coordinatorTransactionsTotal)
		prometheus.MustRegister(coordinatorBeginDurationSeconds)
	})
}

func countTransaction(mode Mode, outcome string) {
	coordinatorTransactionsTotal.WithLabelValues(mode.String(), outcome).Inc()
}
