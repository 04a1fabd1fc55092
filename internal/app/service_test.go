package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/nikhlu07/Credo/internal/adapters/repository"
	service "github.com/nikhlu07/Credo/internal/app"
	"github.com/nikhlu07/Credo/internal/config"
	"github.com/nikhlu07/Credo/internal/domain/authorizer"
	"github.com/nikhlu07/Credo/internal/domain/model"
	"github.com/nikhlu07/Credo/internal/domain/sigverify"
)

var subject = common.HexToAddress("0x000000000000000000000000000000000000c0de")

func testConfig(signers ...string) *config.Config {
	cfg := config.New()
	cfg.WorkerCount = 2
	cfg.Signers = signers
	return cfg
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func signedUpdate(signer sigverify.Signer, u model.ScoreUpdate) []byte {
	sig, err := signer.Sign(authorizer.ScoreUpdateHash(u))
	So(err, ShouldBeNil)
	return sig
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it is not started", func() {
			So(svc, ShouldNotBeNil)
			So(svc.GetStats()["started"], ShouldEqual, false)
		})

		Convey("Then the HTTP dependencies are unavailable", func() {
			_, err := svc.APIDependencies()
			So(err, ShouldEqual, service.ErrNotStarted)
		})
	})

	Convey("Given an invalid configuration", t, func() {
		cfg := testConfig()
		cfg.Verifier = "rsa"
		svc := service.New(service.WithConfig(cfg))

		Convey("Then Start refuses it", func() {
			So(errors.Is(svc.Start(context.Background()), config.ErrInvalidConfig), ShouldBeTrue)
		})
	})
}

func TestService_StartStop(t *testing.T) {
	Convey("Given a started service without configured addresses", t, func() {
		ctx := context.Background()
		svc := service.New(service.WithConfig(testConfig()))
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		Convey("Then owner and identity are derived", func() {
			So(svc.Owner(), ShouldEqual, service.DeriveIdentity("owner"))
			So(svc.Identity(), ShouldEqual, service.DeriveIdentity("authorizer"))
		})

		Convey("Then the oracles are exactly the owner and the authorizer identity", func() {
			oracles, err := svc.Registry().Oracles(ctx)
			So(err, ShouldBeNil)
			So(oracles, ShouldHaveLength, 2)
			So(oracles, ShouldContain, svc.Owner())
			So(oracles, ShouldContain, svc.Identity())
		})

		Convey("Then the owner is the primary signer", func() {
			primary, err := svc.Authorizer().PrimarySigner(ctx)
			So(err, ShouldBeNil)
			So(primary, ShouldEqual, svc.Owner())
		})

		Convey("Then stats report the running components", func() {
			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, true)
			So(stats["oracles"], ShouldEqual, 2)
			So(stats["signers"], ShouldEqual, 1)
		})

		Convey("When stopping the service", func() {
			So(svc.Stop(ctx), ShouldBeNil)

			Convey("Then it is marked as stopped", func() {
				So(svc.GetStats()["started"], ShouldEqual, false)
			})

			Convey("Then a second stop is a no-op", func() {
				So(svc.Stop(ctx), ShouldBeNil)
			})
		})
	})
}

func TestService_SignedUpdateFlow(t *testing.T) {
	Convey("Given a service with a configured signer", t, func() {
		ctx := context.Background()
		signer, err := sigverify.GenerateSecp256k1()
		So(err, ShouldBeNil)

		now := time.Unix(1_700_000_000, 0)
		svc := service.New(
			service.WithConfig(testConfig(signer.Address().Hex())),
			service.WithClock(func() time.Time { return now }),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		Convey("Then the configured signer replaced the owner as primary", func() {
			primary, err := svc.Authorizer().PrimarySigner(ctx)
			So(err, ShouldBeNil)
			So(primary, ShouldEqual, signer.Address())
			ok, err := svc.Authorizer().IsSigner(ctx, svc.Owner())
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("When a signed update is submitted", func() {
			u := model.ScoreUpdate{Subject: subject, Score: 720, Version: 1, Nonce: 0, Deadline: uint64(now.Unix()) + 60}
			receipt, err := svc.Authorizer().SubmitScoreUpdate(ctx, u, signedUpdate(signer, u))
			So(err, ShouldBeNil)
			So(receipt.Signer, ShouldEqual, signer.Address())

			Convey("Then the registry stores it", func() {
				score, err := svc.Registry().GetScore(ctx, subject)
				So(err, ShouldBeNil)
				So(score, ShouldEqual, 720)
			})

			Convey("Then the ranking catches up through the event workers", func() {
				So(eventually(func() bool {
					e, err := svc.Ranking().Rank(ctx, subject)
					return err == nil && e.Score == 720 && e.Rank == 1
				}), ShouldBeTrue)
			})
		})
	})
}

func TestService_Restart(t *testing.T) {
	Convey("Given a service over a shared store", t, func() {
		ctx := context.Background()
		kv := repository.NewMemoryKV()
		now := time.Unix(1_700_000_000, 0)
		clock := service.WithClock(func() time.Time { return now })

		first := service.New(service.WithConfig(testConfig()), service.WithKV(kv), clock)
		So(first.Start(ctx), ShouldBeNil)
		So(first.Registry().UpdateScore(ctx, first.Identity(), subject, 640, 1), ShouldBeNil)
		So(first.Stop(ctx), ShouldBeNil)

		Convey("When a new service starts over the same store", func() {
			second := service.New(service.WithConfig(testConfig()), service.WithKV(kv), clock)
			So(second.Start(ctx), ShouldBeNil)
			defer func() { _ = second.Stop(ctx) }()

			Convey("Then the ranking is rebuilt from stored scores", func() {
				e, err := second.Ranking().Rank(ctx, subject)
				So(err, ShouldBeNil)
				So(e.Score, ShouldEqual, 640)
			})

			Convey("Then bootstrap did not duplicate the oracle grant", func() {
				oracles, err := second.Registry().Oracles(ctx)
				So(err, ShouldBeNil)
				So(oracles, ShouldHaveLength, 2)
				So(oracles, ShouldContain, second.Owner())
				So(oracles, ShouldContain, second.Identity())
			})
		})

		Convey("When the configured owner no longer owns the store", func() {
			cfg := testConfig()
			cfg.Owner = "0x00000000000000000000000000000000000000f1"
			cfg.Oracles = []string{"0x00000000000000000000000000000000000000f2"}
			third := service.New(service.WithConfig(cfg), service.WithKV(kv), clock)
			So(third.Start(ctx), ShouldBeNil)
			defer func() { _ = third.Stop(ctx) }()

			Convey("Then the configured oracles are not granted", func() {
				ok, err := third.Registry().IsOracle(ctx, common.HexToAddress(cfg.Oracles[0]))
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)
			})
		})
	})
}

func TestService_PebbleBackend(t *testing.T) {
	Convey("Given a service configured for pebble", t, func() {
		ctx := context.Background()
		cfg := testConfig()
		cfg.StoreBackend = config.StorePebble
		cfg.DataDir = t.TempDir()

		svc := service.New(service.WithConfig(cfg))
		So(svc.Start(ctx), ShouldBeNil)
		So(svc.Registry().UpdateScore(ctx, svc.Identity(), subject, 300, 1), ShouldBeNil)
		So(svc.Stop(ctx), ShouldBeNil)

		Convey("Then scores survive a restart", func() {
			again := service.New(service.WithConfig(cfg))
			So(again.Start(ctx), ShouldBeNil)
			defer func() { _ = again.Stop(ctx) }()

			rec, err := again.Registry().GetScoreData(ctx, subject)
			So(err, ShouldBeNil)
			So(rec.Score, ShouldEqual, 300)
			So(again.GetStats()["store"], ShouldEqual, config.StorePebble)
		})
	})
}
