package authorizer

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/nikhlu07/Credo/internal/domain/model"
)

func pad32(v uint64) []byte {
	return new(big.Int).SetUint64(v).FillBytes(make([]byte, 32))
}

func TestScoreUpdateDigestLayout(t *testing.T) {
	Convey("Given a single update", t, func() {
		u := model.ScoreUpdate{
			Subject:  common.HexToAddress("0x1111111111111111111111111111111111111111"),
			Score:    750,
			Version:  3,
			Nonce:    7,
			Deadline: 1_700_003_600,
		}

		Convey("The digest is keccak256 over the tightly packed fields", func() {
			var packed []byte
			packed = append(packed, "ScoreUpdate"...)
			packed = append(packed, u.Subject.Bytes()...)
			packed = append(packed, pad32(750)...)
			packed = append(packed, pad32(3)...)
			packed = append(packed, pad32(7)...)
			packed = append(packed, pad32(1_700_003_600)...)

			So(len(packed), ShouldEqual, 11+20+4*32)
			So(ScoreUpdateDigest(u), ShouldEqual, crypto.Keccak256Hash(packed))
		})

		Convey("The signing hash wraps the digest as a personal message", func() {
			d := ScoreUpdateDigest(u)
			want := crypto.Keccak256Hash([]byte("\x19Ethereum Signed Message:\n32"), d.Bytes())
			So(ScoreUpdateHash(u), ShouldEqual, want)
		})

		Convey("Every field changes the digest", func() {
			base := ScoreUpdateDigest(u)
			for _, mut := range []func(*model.ScoreUpdate){
				func(x *model.ScoreUpdate) { x.Score++ },
				func(x *model.ScoreUpdate) { x.Version++ },
				func(x *model.ScoreUpdate) { x.Nonce++ },
				func(x *model.ScoreUpdate) { x.Deadline++ },
				func(x *model.ScoreUpdate) { x.Subject[19] ^= 1 },
			} {
				v := u
				mut(&v)
				So(ScoreUpdateDigest(v), ShouldNotEqual, base)
			}
		})
	})
}

func TestBatchUpdateDigestLayout(t *testing.T) {
	Convey("Given a batch update", t, func() {
		b := model.BatchScoreUpdate{
			Subjects: []common.Address{
				common.HexToAddress("0x1111111111111111111111111111111111111111"),
				common.HexToAddress("0x2222222222222222222222222222222222222222"),
			},
			Scores:   []uint64{100, 900},
			Version:  1,
			Nonce:    0,
			Deadline: 1_700_003_600,
		}

		Convey("The arrays are ABI-encoded and hashed before packing", func() {
			addrT, err := abi.NewType("address[]", "", nil)
			So(err, ShouldBeNil)
			uintT, err := abi.NewType("uint256[]", "", nil)
			So(err, ShouldBeNil)

			encSubjects, err := abi.Arguments{{Type: addrT}}.Pack(b.Subjects)
			So(err, ShouldBeNil)
			encScores, err := abi.Arguments{{Type: uintT}}.Pack([]*big.Int{big.NewInt(100), big.NewInt(900)})
			So(err, ShouldBeNil)

			So(encodeAddressArray(b.Subjects), ShouldResemble, encSubjects)
			So(encodeUintArray(b.Scores), ShouldResemble, encScores)

			var packed []byte
			packed = append(packed, "BatchScoreUpdate"...)
			packed = append(packed, crypto.Keccak256(encSubjects)...)
			packed = append(packed, crypto.Keccak256(encScores)...)
			packed = append(packed, pad32(1)...)
			packed = append(packed, pad32(0)...)
			packed = append(packed, pad32(1_700_003_600)...)

			So(BatchUpdateDigest(b), ShouldEqual, crypto.Keccak256Hash(packed))
		})

		Convey("Swapping entries changes the digest", func() {
			swapped := b
			swapped.Scores = []uint64{900, 100}
			So(BatchUpdateDigest(swapped), ShouldNotEqual, BatchUpdateDigest(b))
		})

		Convey("An empty array encodes as offset and zero length", func() {
			enc := encodeAddressArray(nil)
			So(len(enc), ShouldEqual, 64)
			So(enc[31], ShouldEqual, byte(0x20))
			So(enc[63], ShouldEqual, byte(0))
		})
	})
}
