package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options on a fresh registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then defaults apply", func() {
				So(manager, ShouldNotBeNil)
				So(manager.Enabled(), ShouldBeTrue)
				So(manager.RefreshInterval(), ShouldEqual, defaultRefreshInterval)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithMetricsEnabled(false),
				WithRefreshInterval(5*time.Second),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then metric names carry the namespace and labels", func() {
				So(manager.Enabled(), ShouldBeFalse)
				So(manager.RefreshInterval(), ShouldEqual, 5*time.Second)

				manager.updatesAccepted.WithLabelValues("single").Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)

				var found bool
				for _, f := range families {
					if f.GetName() == "test_unit_updates_accepted_total" {
						found = true
						So(f.GetMetric()[0].GetLabel()[0].GetName(), ShouldEqual, "env")
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When empty options are given", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithNamespace(""), WithSubsystem(""), WithRefreshInterval(0), WithPrometheusRegistry(registry))

			Convey("Then they are ignored", func() {
				So(manager.namespace, ShouldEqual, "credo")
				So(manager.subsystem, ShouldEqual, "scores")
				So(manager.RefreshInterval(), ShouldEqual, defaultRefreshInterval)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording authorizer outcomes", func() {
			before := testutil.ToFloat64(globalManager.updatesRejected.WithLabelValues("single", "nonce"))
			RecordUpdateRejected("single", "nonce")
			RecordUpdateAccepted("batch")
			RecordBatchSize(3)
			RecordAuthorizeLatency(1.5)
			RecordSignatureRecovery("secp256k1", true)
			RecordSignatureRecovery("secp256k1", false)

			Convey("Then counters move", func() {
				So(testutil.ToFloat64(globalManager.updatesRejected.WithLabelValues("single", "nonce")), ShouldEqual, before+1)
				So(testutil.ToFloat64(globalManager.signatureRecovered.WithLabelValues("secp256k1", "failed")), ShouldBeGreaterThan, 0)
			})
		})

		Convey("When updating gauges", func() {
			UpdateRegistryUsers(7)
			UpdateRegistryActive(5)
			UpdateRegistryOracles(2)
			UpdateAuthorizedSigners(3)
			UpdateRankingSize(5)
			UpdateWorkerCount(4)

			Convey("Then they hold the last value", func() {
				So(testutil.ToFloat64(globalManager.registryUsers), ShouldEqual, 7)
				So(testutil.ToFloat64(globalManager.registryActive), ShouldEqual, 5)
				So(testutil.ToFloat64(globalManager.rankingSize), ShouldEqual, 5)
				So(testutil.ToFloat64(globalManager.workerCount), ShouldEqual, 4)
			})
		})

		Convey("When recording bus, store and HTTP activity", func() {
			So(func() {
				RecordEventPublished("ScoreUpdated")
				RecordEventConsumed("ScoreUpdated")
				RecordEventPublishError()
				RecordWorkerProcessingLatency(0.2)
				RecordWorkerError()
				RecordRankingUpdate()
				RecordRegistryWrite("update")
				RecordStoreLatency("memory", "apply", 0.01)
				RecordStoreError("pebble", "get")
				RecordHTTPRequest("/v1/updates", "POST", "200")
				RecordHTTPRequestDuration("/v1/updates", "POST", "200", 3)
				RecordHTTPRateLimited()
				UpdateSystemMemoryUsage(1024)
				UpdateSystemGoroutineCount(10)
			}, ShouldNotPanic)

			Convey("Then the exposition names them under the default namespace", func() {
				families, err := GetRegistry().Gather()
				So(err, ShouldBeNil)
				var names []string
				for _, f := range families {
					names = append(names, f.GetName())
				}
				joined := strings.Join(names, ",")
				So(joined, ShouldContainSubstring, "credo_scores_events_published_total")
				So(joined, ShouldContainSubstring, "credo_scores_http_requests_total")
			})
		})
	})
}

func TestMetricsDisabled(t *testing.T) {
	Convey("Given the global manager with recording turned off", t, func() {
		Global().SetEnabled(false)
		defer Global().SetEnabled(true)

		before := testutil.ToFloat64(globalManager.workerErrors)
		rejected := testutil.ToFloat64(globalManager.updatesRejected.WithLabelValues("batch", "disabled"))
		RecordWorkerError()
		RecordUpdateRejected("batch", "disabled")

		Convey("Then record helpers leave the series untouched", func() {
			So(Global().Enabled(), ShouldBeFalse)
			So(testutil.ToFloat64(globalManager.workerErrors), ShouldEqual, before)
			So(testutil.ToFloat64(globalManager.updatesRejected.WithLabelValues("batch", "disabled")), ShouldEqual, rejected)
		})

		Convey("Then turning it back on records again", func() {
			Global().SetEnabled(true)
			RecordWorkerError()
			So(testutil.ToFloat64(globalManager.workerErrors), ShouldEqual, before+1)
		})
	})
}

func TestSince(t *testing.T) {
	Convey("Since reports non-negative milliseconds", t, func() {
		So(Since(time.Now().Add(-5*time.Millisecond)), ShouldBeGreaterThanOrEqualTo, 5)
	})
}
