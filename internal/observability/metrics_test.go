package observability_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/frahmantamala/crm-authz/internal/observability"
	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObservability(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Observability Suite")
}

var _ = Describe("Metrics", func() {
	var (
		registry *prometheus.Registry
		metrics  *observability.Metrics
	)

	BeforeEach(func() {
		registry = prometheus.NewRegistry()
		metrics = observability.NewMetrics(registry)
	})

	It("counts mutations by outcome", func() {
		metrics.ObserveMutation("set_phone_visibility", nil)
		metrics.ObserveMutation("set_phone_visibility", errors.New("boom"))
		metrics.ObserveMutation("set_phone_visibility", nil)

		Expect(testutil.ToFloat64(metrics.MutationsTotal.WithLabelValues("set_phone_visibility", "success"))).To(Equal(2.0))
		Expect(testutil.ToFloat64(metrics.MutationsTotal.WithLabelValues("set_phone_visibility", "error"))).To(Equal(1.0))
	})

	It("counts denied decisions", func() {
		metrics.ObserveDecision("permission:leads.delete", false)
		Expect(testutil.ToFloat64(metrics.DecisionsTotal.WithLabelValues("permission:leads.delete", "denied"))).To(Equal(1.0))
	})

	It("ignores calls on a nil receiver", func() {
		var m *observability.Metrics
		Expect(func() {
			m.ObserveMutation("x", nil)
			m.ObserveRefreshFailure("catalog")
			m.ObserveDecision("x", true)
			m.SetSessions(3)
			m.ObserveSessionEviction()
		}).NotTo(Panic())
	})

	It("labels HTTP requests with the route pattern", func() {
		r := chi.NewRouter()
		r.Use(observability.HTTPMetricsMiddleware(metrics))
		r.Get("/roles/{id}", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})

		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/roles/abc", nil))
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/roles/def", nil))

		Expect(testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/roles/{id}", "204"))).To(Equal(2.0))
	})

	It("serves the registry", func() {
		metrics.SetSessions(2)
		rec := httptest.NewRecorder()
		observability.Handler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("crm_authz_sessions_active 2"))
	})
})
