package apiserver_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	api "github.com/qiita/qiita-ware/api/v1alpha1"
	apiserver "github.com/qiita/qiita-ware/internal/api_server"
	"github.com/qiita/qiita-ware/internal/capability"
	"github.com/qiita/qiita-ware/internal/config"
	"github.com/qiita/qiita-ware/internal/events"
	"github.com/qiita/qiita-ware/internal/service"
	"github.com/qiita/qiita-ware/internal/store"
	"github.com/qiita/qiita-ware/internal/util"
	"github.com/qiita/qiita-ware/internal/worker"
)

const userHeader = "X-Qiita-User"

type client struct {
	base string
}

func (c client) do(user, method, path string, body any) *http.Response {
	var payload bytes.Buffer
	if body != nil {
		Expect(json.NewEncoder(&payload).Encode(body)).To(Succeed())
	}
	req, err := http.NewRequest(method, c.base+path, &payload)
	Expect(err).To(BeNil())
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(userHeader, user)
	}
	resp, err := http.DefaultClient.Do(req)
	Expect(err).To(BeNil())
	return resp
}

func decode[T any](resp *http.Response) T {
	defer resp.Body.Close()
	var v T
	Expect(json.NewDecoder(resp.Body).Decode(&v)).To(Succeed())
	return v
}

var _ = Describe("api server", func() {
	var (
		srv         *httptest.Server
		c           client
		bus         *events.Bus
		switchboard *service.Switchboard
		pool        *worker.LocalPool
	)

	BeforeEach(func() {
		cfg := config.NewDefault()
		cfg.Switchboard.FinishMaxInterval = 10 * time.Millisecond
		cfg.Service.LogLevel = "info"

		s := store.NewMemoryStore()
		bus = events.NewBus(events.NewLocalTransport(s))
		registry := capability.NewDefaultRegistry("results")
		pool = worker.NewLocalPool(registry, 2, 16)
		switchboard = service.NewSwitchboard(s, bus, pool, registry, cfg)

		handler, err := apiserver.New(cfg, switchboard, bus, nil).Handler()
		Expect(err).To(BeNil())
		srv = httptest.NewServer(handler)
		c = client{base: srv.URL}
	})

	AfterEach(func() {
		srv.Close()
		switchboard.Close()
		Expect(pool.Close()).To(Succeed())
		Expect(bus.Close()).To(Succeed())
	})

	create := func(user, name string) uuid.UUID {
		resp := c.do(user, http.MethodPost, "/api/v1/analyses", api.AnalysisCreate{
			Name:           util.StrToPtr(name),
			Studies:        []string{"1"},
			MetadataFields: []string{"SAMPLE_TYPE"},
			Jobs: map[string][]api.JobCreate{
				"16S": {{Function: capability.FunctionAlphaDiversity}, {Function: capability.FunctionBetaDiversity}},
			},
		})
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
		return decode[api.AnalysisReference](resp).Id
	}

	waitCompleted := func(user string, id uuid.UUID) {
		Eventually(func() api.AnalysisStatus {
			resp := c.do(user, http.MethodGet, fmt.Sprintf("/api/v1/analyses/%s", id), nil)
			return decode[api.Analysis](resp).Status
		}).WithTimeout(5 * time.Second).Should(Equal(api.AnalysisStatusCompleted))
	}

	It("serves the health check without a user", func() {
		resp := c.do("", http.MethodGet, "/health", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(decode[api.Status](resp).Message).To(Equal("ok"))
	})

	It("rejects requests without a user", func() {
		resp := c.do("", http.MethodGet, "/api/v1/analyses", nil)
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
	})

	It("accepts the gateway prefix", func() {
		resp := c.do("alice", http.MethodGet, "/api/qiita-ware/api/v1/analyses", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(decode[api.AnalysisList](resp)).To(BeEmpty())
	})

	Context("analyses", func() {
		It("runs a submitted analysis to completion", func() {
			id := create("alice", "first")
			waitCompleted("alice", id)

			analysis := decode[api.Analysis](c.do("alice", http.MethodGet, fmt.Sprintf("/api/v1/analyses/%s", id), nil))
			Expect(analysis.Owner).To(Equal("alice"))
			Expect(analysis.DataTypes).To(ConsistOf("16S"))
			Expect(analysis.Jobs).To(HaveLen(2))
			for _, j := range analysis.Jobs {
				Expect(j.Status).To(Equal(api.JobStatusDone))
				Expect(j.Results).NotTo(BeEmpty())
			}
		})

		It("rejects invalid bodies and unknown functions", func() {
			req, err := http.NewRequest(http.MethodPost, c.base+"/api/v1/analyses", strings.NewReader("{"))
			Expect(err).To(BeNil())
			req.Header.Set(userHeader, "alice")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).To(BeNil())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			resp = c.do("alice", http.MethodPost, "/api/v1/analyses", api.AnalysisCreate{
				Studies:        []string{"1"},
				MetadataFields: []string{"SAMPLE_TYPE"},
				Jobs:           map[string][]api.JobCreate{"16S": {{Function: "nope"}}},
			})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decode[api.Error](resp).Message).NotTo(BeEmpty())
		})

		It("validates requests against the OpenAPI document", func() {
			resp := c.do("alice", http.MethodPost, "/api/v1/analyses", map[string]any{
				"studies":        "1",
				"metadataFields": []string{"SAMPLE_TYPE"},
				"jobs":           map[string]any{},
			})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decode[api.Error](resp).Message).To(HavePrefix("API Error:"))

			resp = c.do("alice", http.MethodPost, "/api/v1/analyses", map[string]any{
				"studies":        []string{"1"},
				"metadataFields": []string{"SAMPLE_TYPE"},
			})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decode[api.Error](resp).Message).To(ContainSubstring("jobs"))

			resp = c.do("alice", http.MethodPatch, fmt.Sprintf("/api/v1/analyses/%s", uuid.New()), map[string]any{
				"addStudies": "2",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decode[api.Error](resp).Message).To(HavePrefix("API Error:"))

			resp = c.do("alice", http.MethodGet, "/api/v1/unknown", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("rejects a duplicate name", func() {
			id := create("alice", "twice")
			waitCompleted("alice", id)

			resp := c.do("alice", http.MethodPost, "/api/v1/analyses", api.AnalysisCreate{
				Name:           util.StrToPtr("twice"),
				Studies:        []string{"1"},
				MetadataFields: []string{"SAMPLE_TYPE"},
				Jobs:           map[string][]api.JobCreate{"16S": {{Function: capability.FunctionAlphaDiversity}}},
			})
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})

		It("answers 400 for a malformed id and 404 for an unknown one", func() {
			resp := c.do("alice", http.MethodGet, "/api/v1/analyses/not-a-uuid", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			resp = c.do("alice", http.MethodGet, fmt.Sprintf("/api/v1/analyses/%s", uuid.New()), nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("keeps analyses private to their owner", func() {
			id := create("alice", "private")
			waitCompleted("alice", id)

			resp := c.do("bob", http.MethodGet, fmt.Sprintf("/api/v1/analyses/%s", id), nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))

			resp = c.do("bob", http.MethodGet, "/api/v1/analyses?owner=alice", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))

			resp = c.do("admin", http.MethodGet, "/api/v1/analyses?owner=alice", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decode[api.AnalysisList](resp)).To(HaveLen(1))
		})

		It("filters the list by status", func() {
			id := create("alice", "filtered")
			waitCompleted("alice", id)

			resp := c.do("alice", http.MethodGet, "/api/v1/analyses?status=running,construction", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decode[api.AnalysisList](resp)).To(BeEmpty())

			resp = c.do("alice", http.MethodGet, "/api/v1/analyses?status=completed", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decode[api.AnalysisList](resp)).To(HaveLen(1))

			resp = c.do("alice", http.MethodGet, "/api/v1/analyses?status=bogus", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("renames, locks and deletes", func() {
			id := create("alice", "editable")
			waitCompleted("alice", id)
			path := fmt.Sprintf("/api/v1/analyses/%s", id)

			resp := c.do("alice", http.MethodPatch, path, api.AnalysisUpdate{Name: util.StrToPtr("renamed")})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			renamed := decode[api.Analysis](resp)
			Expect(renamed.Name).To(Equal("renamed"))
			Expect(renamed.Jobs).To(HaveLen(2))
			for _, j := range renamed.Jobs {
				Expect(j.DataType).To(Equal("16S"))
				Expect(j.Status).To(Equal(api.JobStatusDone))
			}

			resp = c.do("alice", http.MethodPatch, path, api.AnalysisUpdate{RemoveDataTypes: &[]string{"16S"}})
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))

			resp = c.do("alice", http.MethodPatch, path, api.AnalysisUpdate{RemoveStudies: &[]string{"42"}})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decode[api.Error](resp).Message).To(ContainSubstring("42"))

			resp = c.do("alice", http.MethodPost, path+"/lock", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decode[api.Status](resp).Message).To(Equal("locked"))

			resp = c.do("alice", http.MethodPatch, path, api.AnalysisUpdate{Name: util.StrToPtr("again")})
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))

			resp = c.do("alice", http.MethodPost, path+"/stop", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))

			resp = c.do("alice", http.MethodDelete, path, nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			resp = c.do("alice", http.MethodGet, path, nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Context("messages", func() {
		dial := func(user string) *websocket.Conn {
			url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/messages"
			header := http.Header{}
			header.Set(userHeader, user)
			conn, resp, err := websocket.DefaultDialer.Dial(url, header)
			Expect(err).To(BeNil())
			Expect(resp.StatusCode).To(Equal(http.StatusSwitchingProtocols))
			return conn
		}

		read := func(conn *websocket.Conn) events.Message {
			Expect(conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
			var msg events.Message
			Expect(conn.ReadJSON(&msg)).To(Succeed())
			return msg
		}

		It("streams job progress until the analysis is done", func() {
			conn := dial("alice")
			defer conn.Close()

			create("alice", "streamed")

			var received []events.Message
			for {
				msg := read(conn)
				received = append(received, msg)
				if msg.Job == events.AnalysisDoneJob {
					break
				}
			}

			last := received[len(received)-1]
			Expect(last.Analysis).To(Equal("streamed"))
			Expect(last.Msg).To(Equal("allcomplete"))

			completed := 0
			for _, msg := range received[:len(received)-1] {
				Expect(msg.Analysis).To(Equal("streamed"))
				Expect(msg.Job).To(HavePrefix("16S:"))
				if msg.Msg == "Completed" {
					completed++
					Expect(msg.Results).NotTo(BeEmpty())
				}
			}
			Expect(completed).To(Equal(2))
		})

		It("replays the backlog to a late listener", func() {
			id := create("alice", "replayed")
			waitCompleted("alice", id)

			conn := dial("alice")
			defer conn.Close()

			// job events may still be in the backlog if the trim has not run yet
			msg := read(conn)
			for msg.Job != events.AnalysisDoneJob {
				msg = read(conn)
			}
			Expect(msg.Analysis).To(Equal("replayed"))
			Expect(msg.Msg).To(Equal("allcomplete"))
		})

		It("does not deliver messages of other users", func() {
			conn := dial("bob")
			defer conn.Close()

			id := create("alice", "not-for-bob")
			waitCompleted("alice", id)

			Expect(conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))).To(Succeed())
			var msg events.Message
			Expect(conn.ReadJSON(&msg)).NotTo(Succeed())
		})
	})
})
