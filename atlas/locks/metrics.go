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

package locks

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	lockManagerPrometheusMetrics sync.Once

	lockManagerLocksHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "atlas",
			Subsystem: "locks",
			Name:      "held",
			Help:      "Number of range locks currently held, counting every shared holder separately.",
		})
	lockManagerRequestsWaiting = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "atlas",
			Subsystem: "locks",
			Name:      "requests_waiting",
			Help:      "Number of lock requests queued behind a held lock.",
		})
	lockManagerAcquisitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atlas",
			Subsystem: "locks",
			Name:      "acquisitions_total",
			Help:      "Number of AcquireLocks() calls, by whether they were granted immediately, had to wait or were rejected.",
		},
		[]string{"outcome"})
	lockManagerAcquisitionsImmediate = lockManagerAcquisitionsTotal.WithLabelValues("immediate")
	lockManagerAcquisitionsQueued    = lockManagerAcquisitionsTotal.WithLabelValues("queued")
	lockManagerAcquisitionsRejected  = lockManagerAcquisitionsTotal.WithLabelValues("rejected")

	lockManagerQueuedGrantsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atlas",
			Subsystem: "locks",
			Name:      "queued_grants_total",
			Help:      "Number of queued requests popped during a release, by whether they were granted or skipped because their holder was gone.",
		},
		[]string{"outcome"})
	lockManagerQueuedGrantsGranted    = lockManagerQueuedGrantsTotal.WithLabelValues("granted")
	lockManagerQueuedGrantsHolderGone = lockManagerQueuedGrantsTotal.WithLabelValues("holder_gone")

	lockManagerWaitDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "atlas",
			Subsystem: "locks",
			Name:      "wait_duration_seconds",
			Help:      "Time a request spent queued before being granted.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"mode"})
)

func registerMetrics() {
	lockManagerPrometheusMetrics.Do(func() {
		prometheus.MustRegister(lockManagerLocksHeld)
		prometheus.MustRegister(lockManagerRequestsWaiting)
		prometheus.MustRegister(lockManagerAcquisitionsTotal)
		prometheus.MustRegister(lockManagerQueuedGrantsTotal)
		prometheus.MustRegister(lockManagerWaitDurationSeconds)
	})
}
