package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	app "github.com/nikhlu07/Credo/internal/app"
	"github.com/nikhlu07/Credo/internal/config"
	"github.com/nikhlu07/Credo/internal/domain/authorizer"
	"github.com/nikhlu07/Credo/internal/domain/model"
	"github.com/nikhlu07/Credo/internal/domain/sigverify"
	"github.com/nikhlu07/Credo/internal/domain/types"
	"github.com/nikhlu07/Credo/pkg/logger"
)

func startTestService(t *testing.T, cfg *config.Config) (*app.Service, http.Handler) {
	t.Helper()
	ctx := context.Background()
	svc := app.New(app.WithConfig(cfg))
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(func() { _ = svc.Stop(context.Background()) })

	h, err := newHandler(ctx, cfg, svc, logger.Nop())
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return svc, h
}

func TestConfigurationFromEnvironment(t *testing.T) {
	convey.Convey("Given CREDO_ environment variables", t, func() {
		_ = os.Setenv("CREDO_ADDR", ":8080")
		_ = os.Setenv("CREDO_WORKER_COUNT", "4")
		_ = os.Setenv("CREDO_VERIFIER", "bls")
		defer func() {
			_ = os.Unsetenv("CREDO_ADDR")
			_ = os.Unsetenv("CREDO_WORKER_COUNT")
			_ = os.Unsetenv("CREDO_VERIFIER")
		}()

		convey.Convey("Then configuration picks them up", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
			convey.So(cfg.WorkerCount, convey.ShouldEqual, 4)
			convey.So(cfg.Verifier, convey.ShouldEqual, config.VerifierBLS)
		})
	})
}

func TestHandlerWiring(t *testing.T) {
	convey.Convey("Given the assembled HTTP handler", t, func() {
		cfg := config.New()
		cfg.WorkerCount = 2
		_, h := startTestService(t, cfg)

		for _, path := range []string{"/healthz", "/stats", "/api-docs", "/openapi.yaml", "/v1/users", "/v1/leaderboard?limit=10"} {
			convey.Convey("Then GET "+path+" is served", func() {
				rec := httptest.NewRecorder()
				h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
				convey.So(rec.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(rec.Header().Get("X-Request-ID"), convey.ShouldNotBeEmpty)
			})
		}
	})
}

func TestHandlerRequiresStartedService(t *testing.T) {
	convey.Convey("Given a service that was never started", t, func() {
		svc := app.New()

		convey.Convey("Then no handler is built", func() {
			_, err := newHandler(context.Background(), config.New(), svc, logger.Nop())
			convey.So(err, convey.ShouldEqual, app.ErrNotStarted)
		})
	})
}

func TestSignedSubmissionEndToEnd(t *testing.T) {
	convey.Convey("Given a running node with a configured signer", t, func() {
		signer, err := sigverify.GenerateSecp256k1()
		convey.So(err, convey.ShouldBeNil)

		cfg := config.New()
		cfg.WorkerCount = 2
		cfg.Signers = []string{signer.Address().Hex()}
		svc, h := startTestService(t, cfg)

		subject := model.Address{0x42}
		u := model.ScoreUpdate{Subject: subject, Score: 810, Version: 1, Nonce: 0, Deadline: types.Deadline(time.Now(), time.Minute)}
		sig, err := signer.Sign(authorizer.ScoreUpdateHash(u))
		convey.So(err, convey.ShouldBeNil)

		body, _ := json.Marshal(types.SubmitRequest{Update: u, Signature: sig})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/updates", bytes.NewReader(body)))

		convey.Convey("Then the update is accepted and stored", func() {
			convey.So(rec.Code, convey.ShouldEqual, http.StatusOK)
			score, err := svc.Registry().GetScore(context.Background(), subject)
			convey.So(err, convey.ShouldBeNil)
			convey.So(score, convey.ShouldEqual, 810)
		})

		convey.Convey("Then replaying it conflicts", func() {
			again := httptest.NewRecorder()
			h.ServeHTTP(again, httptest.NewRequest(http.MethodPost, "/v1/updates", bytes.NewReader(body)))
			convey.So(again.Code, convey.ShouldEqual, http.StatusConflict)
		})
	})
}
