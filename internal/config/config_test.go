package config_test

import (
	"errors"
	"runtime"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nikhlu07/Credo/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.StoreBackend, convey.ShouldEqual, config.StoreMemory)
			convey.So(cfg.Verifier, convey.ShouldEqual, config.VerifierSecp256k1)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU())
			convey.So(cfg.MaxLeaderboardLimit, convey.ShouldEqual, 100)
			convey.So(cfg.MetricsEnabled, convey.ShouldBeTrue)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a default config", t, func() {
		cfg := config.New()

		convey.Convey("When the backend is unknown", func() {
			cfg.StoreBackend = "redis"
			err := cfg.Validate()
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When pebble is selected without a data dir", func() {
			cfg.StoreBackend = config.StorePebble
			cfg.DataDir = ""
			convey.So(cfg.Validate(), convey.ShouldNotBeNil)
		})

		convey.Convey("When the verifier is unknown", func() {
			cfg.Verifier = "rsa"
			convey.So(cfg.Validate(), convey.ShouldNotBeNil)
		})

		convey.Convey("When a signer is not a hex address", func() {
			cfg.Signers = []string{"bob"}
			err := cfg.Validate()
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(err.Error(), convey.ShouldContainSubstring, "bob")
		})

		convey.Convey("When signers contain blanks", func() {
			cfg.Signers = []string{"0x00000000000000000000000000000000000000aa", " "}
			cfg.Oracles = []string{"", " 0x00000000000000000000000000000000000000bb "}
			convey.So(cfg.Validate(), convey.ShouldBeNil)
			convey.So(cfg.SignerAddresses(), convey.ShouldResemble, []common.Address{common.HexToAddress("0xaa")})
			convey.So(cfg.OracleAddresses(), convey.ShouldResemble, []common.Address{common.HexToAddress("0xbb")})
		})
	})
}
