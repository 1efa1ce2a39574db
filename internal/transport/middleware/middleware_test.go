package middleware_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/frahmantamala/crm-authz/internal/transport/middleware"
	"github.com/frahmantamala/crm-authz/pkg/logger"
	chimw "github.com/go-chi/chi/middleware"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestMiddleware(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Middleware Suite")
}

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

var _ = Describe("LoggingMiddleware", func() {
	It("never logs phone numbers or tokens", func() {
		lg, buf := bufferLogger()
		h := middleware.LoggingMiddleware(lg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"phones":["+15551234567"],"mode":"full"}`))
		}))

		req := httptest.NewRequest(http.MethodPost, "/api/v1/access/phone/format", strings.NewReader(`{"phones":["+15551234567"]}`))
		req.Header.Set("Authorization", "Bearer secret-token")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(buf.String()).NotTo(ContainSubstring("+15551234567"))
		Expect(buf.String()).NotTo(ContainSubstring("secret-token"))
		Expect(buf.String()).To(ContainSubstring("[FILTERED]"))
	})

	It("logs client errors at warn", func() {
		lg, buf := bufferLogger()
		h := middleware.LoggingMiddleware(lg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/access/roles", nil))

		Expect(buf.String()).To(ContainSubstring(`"level":"WARN"`))
		Expect(buf.String()).To(ContainSubstring(`"status_code":403`))
	})

	It("prefers the request logger so request ids reach the logs", func() {
		ctxLogger, buf := bufferLogger()
		fallback, unused := bufferLogger()
		h := middleware.RequestID(middleware.LoggingMiddleware(fallback)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/access/me", nil)
		req.Header.Set(middleware.RequestIDHeader, "req-42")
		req = req.WithContext(logger.NewContext(req.Context(), ctxLogger))
		h.ServeHTTP(httptest.NewRecorder(), req)

		Expect(buf.String()).To(ContainSubstring(`"request_id":"req-42"`))
		Expect(unused.Len()).To(BeZero())
	})
})

var _ = Describe("RecoveryMiddleware", func() {
	It("turns a panic into an internal error", func() {
		lg, buf := bufferLogger()
		h := middleware.RecoveryMiddleware(lg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		var body map[string]map[string]any
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body["error"]["code"]).To(Equal("INTERNAL_ERROR"))
		Expect(rec.Body.String()).NotTo(ContainSubstring("boom"))
		Expect(buf.String()).To(ContainSubstring("panic recovered"))
	})

	It("lets an aborted handler through", func() {
		lg, _ := bufferLogger()
		h := middleware.RecoveryMiddleware(lg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic(http.ErrAbortHandler)
		}))
		Expect(func() {
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		}).To(PanicWith(http.ErrAbortHandler))
	})
})

var _ = Describe("RequestID", func() {
	It("keeps an incoming id", func() {
		var seen string
		h := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = chimw.GetReqID(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(middleware.RequestIDHeader, "req-42")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		Expect(seen).To(Equal("req-42"))
		Expect(rec.Header().Get(middleware.RequestIDHeader)).To(Equal("req-42"))
	})
})

var _ = Describe("CORS", func() {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	It("echoes an allowed origin", func() {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://crm.example.com")
		rec := httptest.NewRecorder()
		middleware.CORS("https://crm.example.com, https://admin.example.com")(next).ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusTeapot))
		Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("https://crm.example.com"))
	})

	It("ignores other origins", func() {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		middleware.CORS("https://crm.example.com")(next).ServeHTTP(rec, req)

		Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(BeEmpty())
	})

	It("answers preflight itself", func() {
		req := httptest.NewRequest(http.MethodOptions, "/", nil)
		req.Header.Set("Origin", "https://crm.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPut)
		rec := httptest.NewRecorder()
		middleware.CORS("*")(next).ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusNoContent))
	})
})
