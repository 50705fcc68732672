package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"armory-planner/internal/archive"
	"armory-planner/internal/cost"
	"armory-planner/internal/history"
	"armory-planner/internal/levels"
	"armory-planner/internal/service"
)

const allocateBody = `{
  "layout": "simple",
  "budget": 3000,
  "inventory": {"wood": 20000, "mithril": 800, "knife": 40, "jade": 150},
  "troops": [
    {"name": "步兵", "weapon": "紫色5级", "jade": 6},
    {"name": "弓兵", "weapon": "紫色1级", "jade": 5}
  ],
  "targets": [{"name": "弓兵-weapon-lower", "to": "紫色9级"}]
}`

func newTestServer(opts Options) (*Server, *httptest.Server) {
	cat, err := cost.DefaultCatalog()
	Expect(err).NotTo(HaveOccurred())
	dec, err := archive.NewDecoder(cat, archive.StandardDefaults())
	Expect(err).NotTo(HaveOccurred())
	store, err := history.Open(":memory:")
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(store.Close)

	srv := New(service.New(dec, store, zap.NewNop()), opts, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	DeferCleanup(ts.Close)
	return srv, ts
}

func post(url, body string) (*http.Response, []byte) {
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return resp, raw
}

func get(url string) (*http.Response, []byte) {
	resp, err := http.Get(url)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return resp, raw
}

var _ = Describe("Server", func() {
	var ts *httptest.Server

	BeforeEach(func() {
		_, ts = newTestServer(Options{CacheTTL: time.Minute})
	})

	Describe("POST /v1/allocate", func() {
		It("returns the allocation and caches repeats", func() {
			resp, raw := post(ts.URL+"/v1/allocate", allocateBody)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var first service.AllocateResponse
			Expect(json.Unmarshal(raw, &first)).To(Succeed())
			Expect(first.Result.Upgraded).To(BeTrue())
			Expect(first.Result.Steps).NotTo(BeEmpty())
			Expect(first.RunID).NotTo(BeZero())
			Expect(first.Cached).To(BeFalse())

			_, raw = post(ts.URL+"/v1/allocate", allocateBody)
			var second service.AllocateResponse
			Expect(json.Unmarshal(raw, &second)).To(Succeed())
			Expect(second.Cached).To(BeTrue())
			Expect(second.RunID).To(Equal(first.RunID))
			Expect(second.Result.Items).To(Equal(first.Result.Items))
		})

		It("rejects malformed requests with 400", func() {
			resp, raw := post(ts.URL+"/v1/allocate", `{"budget": -1}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(string(raw)).To(ContainSubstring(`"error"`))
		})

		It("rejects oversized bodies with 413", func() {
			_, small := newTestServer(Options{MaxBodyBytes: 16})
			resp, _ := post(small.URL+"/v1/allocate", allocateBody)
			Expect(resp.StatusCode).To(Equal(http.StatusRequestEntityTooLarge))
		})
	})

	Describe("POST /v1/plan", func() {
		It("prices the targets", func() {
			resp, raw := post(ts.URL+"/v1/plan", allocateBody)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var out service.PlanResponse
			Expect(json.Unmarshal(raw, &out)).To(Succeed())
			Expect(out.Plan.Lines).To(HaveLen(1))
			Expect(out.Plan.Lines[0].From).To(Equal(11))
			Expect(out.Plan.Lines[0].To).To(Equal(19))
			Expect(out.Report).To(ContainSubstring("弓兵-weapon-lower"))
		})
	})

	Describe("GET /v1/levels/{track}", func() {
		It("lists the ladder", func() {
			resp, raw := get(ts.URL + "/v1/levels/jade")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var rungs []levels.Rung
			Expect(json.Unmarshal(raw, &rungs)).To(Succeed())
			Expect(rungs).NotTo(BeEmpty())
			Expect(rungs[0].Level).To(Equal(0))
		})

		It("returns 404 for unknown tracks", func() {
			resp, _ := get(ts.URL + "/v1/levels/armor")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("run history", func() {
		It("lists and fetches recorded runs", func() {
			_, raw := post(ts.URL+"/v1/allocate", allocateBody)
			var out service.AllocateResponse
			Expect(json.Unmarshal(raw, &out)).To(Succeed())

			resp, raw := get(ts.URL + "/v1/runs?limit=5")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var runs []history.Run
			Expect(json.Unmarshal(raw, &runs)).To(Succeed())
			Expect(runs).To(HaveLen(1))
			Expect(runs[0].ID).To(Equal(out.RunID))

			resp, raw = get(ts.URL + "/v1/runs/" + strconv.FormatInt(out.RunID, 10))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var run history.Run
			Expect(json.Unmarshal(raw, &run)).To(Succeed())
			Expect(run.Kind).To(Equal(history.KindAllocate))
			Expect(run.Request).NotTo(BeEmpty())
		})

		It("maps lookup errors to status codes", func() {
			resp, _ := get(ts.URL + "/v1/runs/999")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp, _ = get(ts.URL + "/v1/runs/abc")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp, _ = get(ts.URL + "/v1/runs?limit=0")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	It("compresses JSON responses when asked", func() {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/allocate", strings.NewReader(allocateBody))
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Accept-Encoding", "gzip")
		resp, err := http.DefaultTransport.RoundTrip(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.Header.Get("Content-Encoding")).To(Equal("gzip"))
	})

	It("rate limits per client", func() {
		_, limited := newTestServer(Options{RateLimit: 0.001, Burst: 1})
		resp, _ := post(limited.URL+"/v1/allocate", allocateBody)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		resp, _ = post(limited.URL+"/v1/allocate", allocateBody)
		Expect(resp.StatusCode).To(Equal(http.StatusTooManyRequests))
	})

	It("exposes metrics and health", func() {
		post(ts.URL+"/v1/allocate", allocateBody)

		resp, raw := get(ts.URL + "/metrics")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(string(raw)).To(ContainSubstring(`armory_http_requests_total{code="200",route="allocate"} 1`))
		Expect(string(raw)).To(ContainSubstring("armory_result_cache_misses_total 1"))

		resp, _ = get(ts.URL + "/healthz")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	Describe("GET /v1/allocate/stream", func() {
		dial := func() *websocket.Conn {
			url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/allocate/stream"
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(conn.Close)
			return conn
		}

		It("streams each step and then the result", func() {
			conn := dial()
			Expect(conn.WriteMessage(websocket.TextMessage, []byte(allocateBody))).To(Succeed())

			var steps int
			var final Frame
			for {
				var f Frame
				Expect(conn.ReadJSON(&f)).To(Succeed())
				if f.Type != "step" {
					final = f
					break
				}
				steps++
				Expect(f.Step.Seq).To(Equal(steps))
			}
			Expect(final.Type).To(Equal("result"))
			Expect(final.Result.Result.Steps).To(HaveLen(steps))

			_, _, err := conn.ReadMessage()
			Expect(websocket.IsCloseError(err, websocket.CloseNormalClosure)).To(BeTrue())
		})

		It("reports decode failures as an error frame", func() {
			conn := dial()
			Expect(conn.WriteMessage(websocket.TextMessage, []byte(`not json`))).To(Succeed())
			var f Frame
			Expect(conn.ReadJSON(&f)).To(Succeed())
			Expect(f.Type).To(Equal("error"))
			Expect(f.Error).NotTo(BeEmpty())
		})
	})
})
