package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/nikhlu07/Credo/internal/domain/registry"
	"github.com/nikhlu07/Credo/internal/domain/types"
)

func TestWriteError(t *testing.T) {
	Convey("Given an unclassified error", t, func() {
		w := httptest.NewRecorder()
		writeError(w, fmt.Errorf("kv: disk detail at /var/lib/credo"))

		Convey("Then the body carries the generic internal message", func() {
			var body types.ErrorResponse
			So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			So(body.Code, ShouldEqual, "internal_error")
			So(body.Message, ShouldEqual, ErrInternal.Error())
		})
	})

	Convey("Given a classified error", t, func() {
		w := httptest.NewRecorder()
		writeError(w, registry.ErrScoreOutOfRange)

		Convey("Then the body carries the error text", func() {
			var body types.ErrorResponse
			So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(body.Message, ShouldEqual, registry.ErrScoreOutOfRange.Error())
		})
	})
}
