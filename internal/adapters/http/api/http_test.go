package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/nikhlu07/Credo/internal/adapters/http/api"
	"github.com/nikhlu07/Credo/internal/adapters/ranking"
	"github.com/nikhlu07/Credo/internal/adapters/repository"
	"github.com/nikhlu07/Credo/internal/domain/authorizer"
	"github.com/nikhlu07/Credo/internal/domain/model"
	"github.com/nikhlu07/Credo/internal/domain/registry"
	"github.com/nikhlu07/Credo/internal/domain/sigverify"
	"github.com/nikhlu07/Credo/internal/domain/types"
)

var (
	registryOwner = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	relayer       = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	subjectA      = common.HexToAddress("0x000000000000000000000000000000000000a001")
	subjectB      = common.HexToAddress("0x000000000000000000000000000000000000b002")
)

type staticStats map[string]interface{}

func (s staticStats) GetStats() map[string]interface{} { return s }

type harness struct {
	mux    *http.ServeMux
	reg    *registry.Registry
	auth   *authorizer.Authorizer
	rank   *ranking.Ranking
	signer *sigverify.Secp256k1Signer
}

func newHarness(t *testing.T, opts ...api.Option) *harness {
	t.Helper()
	ctx := context.Background()
	reg, err := registry.New(ctx, repository.NewMemoryKV(), registryOwner)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if err := reg.SetOracleAuthorization(ctx, registryOwner, relayer, true); err != nil {
		t.Fatalf("oracle: %v", err)
	}
	signer, err := sigverify.GenerateSecp256k1()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	auth, err := authorizer.New(ctx, repository.NewMemoryKV(), reg, signer.Address(), relayer)
	if err != nil {
		t.Fatalf("authorizer: %v", err)
	}
	rank := ranking.New(ctx)
	t.Cleanup(func() { _ = rank.Close() })

	srv := api.NewServer(api.Dependencies{
		Submitter: auth,
		Scores:    reg,
		Ranks:     rank,
		Stats:     staticStats{"status": "ok"},
	}, opts...)
	mux := http.NewServeMux()
	srv.Register(ctx, mux)
	return &harness{mux: mux, reg: reg, auth: auth, rank: rank, signer: signer}
}

func (h *harness) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.mux.ServeHTTP(w, req)
	return w
}

func (h *harness) signed(t *testing.T, u model.ScoreUpdate) types.SubmitRequest {
	sig, err := h.signer.Sign(authorizer.ScoreUpdateHash(u))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return types.SubmitRequest{Update: u, Signature: hexutil.Bytes(sig)}
}

func errorCode(w *httptest.ResponseRecorder) string {
	var e types.ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &e)
	return e.Code
}

func deadline() uint64 { return uint64(time.Now().Add(time.Hour).Unix()) }

func TestSubmitEndpoints(t *testing.T) {
	Convey("Given the API over a live authorizer", t, func() {
		h := newHarness(t)
		u := model.ScoreUpdate{Subject: subjectA, Score: 750, Version: 1, Nonce: 0, Deadline: deadline()}

		Convey("A signed update is accepted and readable", func() {
			w := h.do(http.MethodPost, "/v1/updates", h.signed(t, u))
			So(w.Code, ShouldEqual, http.StatusOK)

			var resp types.SubmitResponse
			So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.Status, ShouldEqual, "accepted")
			So(resp.Signer, ShouldEqual, h.signer.Address())

			w = h.do(http.MethodGet, "/v1/scores/"+subjectA.Hex(), nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			var score types.ScoreResponse
			So(json.Unmarshal(w.Body.Bytes(), &score), ShouldBeNil)
			So(score.Score, ShouldEqual, 750)
			So(score.Data.Active, ShouldBeTrue)
			So(score.Data.UpdatedBy, ShouldEqual, relayer)

			w = h.do(http.MethodGet, "/v1/nonces/"+subjectA.Hex(), nil)
			var nonce types.NonceResponse
			So(json.Unmarshal(w.Body.Bytes(), &nonce), ShouldBeNil)
			So(nonce.Nonce, ShouldEqual, 1)
		})

		Convey("A replayed update is a conflict", func() {
			req := h.signed(t, u)
			So(h.do(http.MethodPost, "/v1/updates", req).Code, ShouldEqual, http.StatusOK)
			w := h.do(http.MethodPost, "/v1/updates", req)
			So(w.Code, ShouldEqual, http.StatusConflict)
			So(errorCode(w), ShouldEqual, "rejected")
		})

		Convey("An unknown signer is forbidden", func() {
			other, err := sigverify.GenerateSecp256k1()
			So(err, ShouldBeNil)
			sig, err := other.Sign(authorizer.ScoreUpdateHash(u))
			So(err, ShouldBeNil)
			w := h.do(http.MethodPost, "/v1/updates", types.SubmitRequest{Update: u, Signature: sig})
			So(w.Code, ShouldEqual, http.StatusForbidden)
		})

		Convey("An out of range score is a bad request", func() {
			bad := u
			bad.Score = 1001
			w := h.do(http.MethodPost, "/v1/updates", h.signed(t, bad))
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Malformed JSON is a bad request", func() {
			req := httptest.NewRequest(http.MethodPost, "/v1/updates", bytes.NewBufferString("{"))
			w := httptest.NewRecorder()
			h.mux.ServeHTTP(w, req)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(errorCode(w), ShouldEqual, "bad_request")
		})

		Convey("The hash endpoint returns what signers sign", func() {
			w := h.do(http.MethodPost, "/v1/hash", u)
			So(w.Code, ShouldEqual, http.StatusOK)
			var resp types.HashResponse
			So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.Hash, ShouldEqual, h.auth.GetScoreUpdateHash(u))
			So(resp.Digest, ShouldEqual, authorizer.ScoreUpdateDigest(u))
		})

		Convey("A signed batch is accepted", func() {
			b := model.BatchScoreUpdate{
				Subjects: []common.Address{subjectA, subjectB},
				Scores:   []uint64{100, 200},
				Version:  1,
				Deadline: deadline(),
			}
			w := h.do(http.MethodPost, "/v1/hash/batch", b)
			var hashes types.HashResponse
			So(json.Unmarshal(w.Body.Bytes(), &hashes), ShouldBeNil)
			So(hashes.Hash, ShouldEqual, authorizer.BatchUpdateHash(b))

			sig, err := h.signer.Sign(hashes.Hash)
			So(err, ShouldBeNil)
			w = h.do(http.MethodPost, "/v1/updates/batch", types.BatchSubmitRequest{BatchScoreUpdate: b, Signature: sig})
			So(w.Code, ShouldEqual, http.StatusOK)

			w = h.do(http.MethodPost, "/v1/scores/active-count", types.ActiveCountRequest{Subjects: []common.Address{subjectA, subjectB, registryOwner}})
			var count types.CountResponse
			So(json.Unmarshal(w.Body.Bytes(), &count), ShouldBeNil)
			So(count.Count, ShouldEqual, 2)

			w = h.do(http.MethodGet, "/v1/users", nil)
			var users types.UsersResponse
			So(json.Unmarshal(w.Body.Bytes(), &users), ShouldBeNil)
			So(users.Users, ShouldResemble, []common.Address{subjectA, subjectB})
		})
	})
}

func TestReadEndpoints(t *testing.T) {
	Convey("Given the API with registry data", t, func() {
		h := newHarness(t)
		ctx := context.Background()
		So(h.reg.UpdateScore(ctx, registryOwner, subjectA, 300, 1), ShouldBeNil)
		So(h.reg.UpdateScore(ctx, registryOwner, subjectA, 400, 2), ShouldBeNil)

		Convey("History lists prior records", func() {
			w := h.do(http.MethodGet, "/v1/scores/"+subjectA.Hex()+"/history", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			var resp types.HistoryResponse
			So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
			So(len(resp.History), ShouldEqual, 1)
			So(resp.History[0].Score, ShouldEqual, 300)
		})

		Convey("Staleness needs a valid max_age", func() {
			w := h.do(http.MethodGet, "/v1/scores/"+subjectB.Hex()+"/stale?max_age=3600s", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			var resp types.StaleResponse
			So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.Stale, ShouldBeTrue)

			w = h.do(http.MethodGet, "/v1/scores/"+subjectA.Hex()+"/stale?max_age=3600s", nil)
			So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.Stale, ShouldBeFalse)

			So(h.do(http.MethodGet, "/v1/scores/"+subjectA.Hex()+"/stale?max_age=soon", nil).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("A malformed address is a bad request", func() {
			So(h.do(http.MethodGet, "/v1/scores/0x1234", nil).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("The leaderboard and rank read the projection", func() {
			h.rank.Set(ctx, subjectA, 400)
			h.rank.Set(ctx, subjectB, 900)

			w := h.do(http.MethodGet, "/v1/leaderboard?limit=2", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			var entries []types.Entry
			So(json.Unmarshal(w.Body.Bytes(), &entries), ShouldBeNil)
			So(len(entries), ShouldEqual, 2)
			So(entries[0].Address, ShouldEqual, subjectB)
			So(entries[1].Rank, ShouldEqual, 2)

			So(h.do(http.MethodGet, "/v1/leaderboard?limit=0", nil).Code, ShouldEqual, http.StatusBadRequest)
			So(h.do(http.MethodGet, "/v1/leaderboard?limit=101", nil).Code, ShouldEqual, http.StatusBadRequest)

			w = h.do(http.MethodGet, "/v1/rank/"+subjectA.Hex(), nil)
			var e types.Entry
			So(json.Unmarshal(w.Body.Bytes(), &e), ShouldBeNil)
			So(e.Rank, ShouldEqual, 2)

			So(h.do(http.MethodGet, "/v1/rank/"+registryOwner.Hex(), nil).Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Health and stats respond", func() {
			So(h.do(http.MethodGet, "/healthz", nil).Code, ShouldEqual, http.StatusOK)
			w := h.do(http.MethodGet, "/stats", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"status":"ok"`)
		})

		Convey("Wrong methods are refused", func() {
			So(h.do(http.MethodGet, "/v1/updates", nil).Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestMiddleware(t *testing.T) {
	Convey("Submit routes are rate limited per client", t, func() {
		h := newHarness(t, api.WithRateLimit(0.001, 1))
		body := types.SubmitRequest{}
		first := h.do(http.MethodPost, "/v1/updates", body)
		So(first.Code, ShouldNotEqual, http.StatusTooManyRequests)
		second := h.do(http.MethodPost, "/v1/updates", body)
		So(second.Code, ShouldEqual, http.StatusTooManyRequests)
		So(errorCode(second), ShouldEqual, "rate_limited")
	})

	Convey("Request IDs are propagated or assigned", t, func() {
		var seen string
		handler := api.RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = api.RequestID(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(api.HeaderRequestID, "abc")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		So(seen, ShouldEqual, "abc")
		So(w.Header().Get(api.HeaderRequestID), ShouldEqual, "abc")

		w = httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		So(len(w.Header().Get(api.HeaderRequestID)), ShouldEqual, 36)
		So(seen, ShouldNotEqual, "abc")
	})

	Convey("Error classes map to statuses", t, func() {
		cases := []struct {
			err  error
			want int
		}{
			{authorizer.ErrUnauthorizedSigner, http.StatusForbidden},
			{registry.ErrScoreOutOfRange, http.StatusBadRequest},
			{authorizer.ErrExpiredDeadline, http.StatusConflict},
			{registry.ErrAlreadyInactive, http.StatusConflict},
			{registry.ErrIndexOutOfRange, http.StatusNotFound},
			{fmt.Errorf("boom"), http.StatusInternalServerError},
		}
		for _, c := range cases {
			So(api.StatusFor(c.err), ShouldEqual, c.want)
		}
	})
}
