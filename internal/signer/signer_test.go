package signer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/nikhlu07/Credo/internal/adapters/http/api"
	service "github.com/nikhlu07/Credo/internal/app"
	"github.com/nikhlu07/Credo/internal/config"
	"github.com/nikhlu07/Credo/internal/domain/authorizer"
	"github.com/nikhlu07/Credo/internal/domain/model"
	"github.com/nikhlu07/Credo/internal/domain/sigverify"
	"github.com/nikhlu07/Credo/pkg/logger"
)

type node struct {
	svc    *service.Service
	server *httptest.Server
}

func startNode(t *testing.T, scheme string, signers ...common.Address) *node {
	t.Helper()
	cfg := config.New()
	cfg.WorkerCount = 2
	cfg.Verifier = scheme
	for _, s := range signers {
		cfg.Signers = append(cfg.Signers, s.Hex())
	}
	svc := service.New(service.WithConfig(cfg))
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start service: %v", err)
	}
	deps, err := svc.APIDependencies()
	if err != nil {
		t.Fatalf("dependencies: %v", err)
	}
	mux := http.NewServeMux()
	api.NewServer(deps, api.WithRateLimit(0, 0)).Register(context.Background(), mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		_ = svc.Stop(context.Background())
	})
	return &node{svc: svc, server: srv}
}

func TestRelayUpdate(t *testing.T) {
	Convey("Given a node that trusts a secp256k1 key", t, func() {
		ctx := context.Background()
		key, err := sigverify.GenerateSecp256k1()
		So(err, ShouldBeNil)
		n := startNode(t, config.VerifierSecp256k1, key.Address())
		relay := NewRelay(NewClient(n.server.URL), NewBuilder(key), logger.Nop())
		subject := common.HexToAddress("0x00000000000000000000000000000000000000d1")

		Convey("When relaying two updates for one subject", func() {
			first, err := relay.Update(ctx, subject, 500, 1)
			So(err, ShouldBeNil)
			second, err := relay.Update(ctx, subject, 650, 2)
			So(err, ShouldBeNil)

			Convey("Then each used the next subject nonce", func() {
				So(first.Nonce, ShouldEqual, 0)
				So(second.Nonce, ShouldEqual, 1)
				So(second.Signer, ShouldEqual, key.Address())
			})

			Convey("Then the node reports the latest score", func() {
				resp, err := relay.client.Score(ctx, subject)
				So(err, ShouldBeNil)
				So(resp.Score, ShouldEqual, 650)
				So(resp.Data.Version, ShouldEqual, 2)
			})
		})

		Convey("When an untrusted key relays an update", func() {
			other, err := sigverify.GenerateSecp256k1()
			So(err, ShouldBeNil)
			rogue := NewRelay(NewClient(n.server.URL), NewBuilder(other), nil)
			_, err = rogue.Update(ctx, subject, 500, 1)

			Convey("Then the node answers 403", func() {
				So(IsStatus(err, http.StatusForbidden), ShouldBeTrue)
			})
		})

		Convey("When the node is asked for a hash", func() {
			u := model.ScoreUpdate{Subject: subject, Score: 1, Version: 1, Deadline: 10}
			resp, err := relay.client.Hash(ctx, u)

			Convey("Then it matches the local computation", func() {
				So(err, ShouldBeNil)
				So(resp.Hash, ShouldEqual, authorizer.ScoreUpdateHash(u))
				So(resp.Digest, ShouldEqual, authorizer.ScoreUpdateDigest(u))
			})
		})
	})
}

func TestRelayBatches(t *testing.T) {
	Convey("Given a node and five entries", t, func() {
		ctx := context.Background()
		key, err := sigverify.GenerateSecp256k1()
		So(err, ShouldBeNil)
		n := startNode(t, config.VerifierSecp256k1, key.Address())
		relay := NewRelay(NewClient(n.server.URL), NewBuilder(key), nil)

		subjects := make([]common.Address, 5)
		scores := make([]uint64, 5)
		for i := range subjects {
			subjects[i] = common.Address{byte(i + 1)}
			scores[i] = uint64(100 * (i + 1))
		}

		Convey("When relayed in chunks of two", func() {
			out, err := relay.Batches(ctx, subjects, scores, 3, 2)
			So(err, ShouldBeNil)

			Convey("Then three batches used consecutive signer nonces", func() {
				So(out, ShouldHaveLength, 3)
				So(out[0].Nonce, ShouldEqual, 0)
				So(out[2].Nonce, ShouldEqual, 2)
			})

			Convey("Then every subject is stored", func() {
				count, err := n.svc.Registry().GetActiveScoreCount(ctx, subjects)
				So(err, ShouldBeNil)
				So(count, ShouldEqual, 5)
			})
		})

		Convey("When lengths disagree", func() {
			_, err := relay.Batches(ctx, subjects, scores[:2], 3, 2)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestRelayLoad(t *testing.T) {
	Convey("Given a node that trusts a BLS key", t, func() {
		key, err := sigverify.GenerateBLS()
		So(err, ShouldBeNil)
		n := startNode(t, config.VerifierBLS, key.Address())
		relay := NewRelay(NewClient(n.server.URL, WithTimeout(5*time.Second)), NewBuilder(key), nil)

		Convey("When a load run scores twenty subjects", func() {
			stats, err := relay.Load(context.Background(), LoadConfig{
				Subjects: 20, Workers: 4, Version: 1, TopN: 5, Settle: 2 * time.Second,
			})

			Convey("Then every update is accepted and the leaderboard converges", func() {
				So(err, ShouldBeNil)
				So(stats.Submitted, ShouldEqual, 20)
				So(stats.Accepted, ShouldEqual, 20)
				So(stats.Verified, ShouldBeTrue)
			})
		})
	})
}

func TestChunk(t *testing.T) {
	Convey("Given 250 entries", t, func() {
		subjects := make([]common.Address, 250)
		scores := make([]uint64, 250)

		Convey("Then an oversize chunk is capped at the batch limit", func() {
			subs, scs := Chunk(subjects, scores, 1000)
			So(subs, ShouldHaveLength, 3)
			So(subs[0], ShouldHaveLength, model.MaxBatchSize)
			So(scs[2], ShouldHaveLength, 50)
		})

		Convey("Then a small chunk divides evenly", func() {
			subs, _ := Chunk(subjects, scores, 50)
			So(subs, ShouldHaveLength, 5)
		})
	})
}

func TestLoadKey(t *testing.T) {
	Convey("Given hex key material", t, func() {
		Convey("Then a secp256k1 key round-trips", func() {
			k, err := sigverify.GenerateSecp256k1()
			So(err, ShouldBeNil)
			loaded, err := LoadKey(sigverify.SchemeSecp256k1, k.PrivateKeyHex())
			So(err, ShouldBeNil)
			So(loaded.Address(), ShouldEqual, k.Address())
		})

		Convey("Then a BLS seed derives a stable identity", func() {
			seed := "0x" + common.Bytes2Hex(make([]byte, 32))
			a, err := LoadKey(sigverify.SchemeBLS, seed)
			So(err, ShouldBeNil)
			b, err := LoadKey(sigverify.SchemeBLS, seed)
			So(err, ShouldBeNil)
			So(a.Address(), ShouldEqual, b.Address())
		})

		Convey("Then a short BLS seed and an unknown scheme fail", func() {
			_, err := LoadKey(sigverify.SchemeBLS, "0x01")
			So(err, ShouldNotBeNil)
			_, err = LoadKey("rsa", "00")
			So(err, ShouldNotBeNil)
		})
	})
}
