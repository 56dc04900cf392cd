package model_test

import (
	"testing"

	model "github.com/okian/racefeed/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestLane(t *testing.T) {
	convey.Convey("Given lane names", t, func() {
		convey.Convey("When parsing known names in any case", func() {
			left, okLeft := model.ParseLane("LEFT")
			right, okRight := model.ParseLane("right")

			convey.Convey("Then they should map to lanes", func() {
				convey.So(okLeft, convey.ShouldBeTrue)
				convey.So(left, convey.ShouldEqual, model.LaneLeft)
				convey.So(okRight, convey.ShouldBeTrue)
				convey.So(right, convey.ShouldEqual, model.LaneRight)
				convey.So(left.String(), convey.ShouldEqual, "left")
			})
		})

		convey.Convey("When parsing an unknown name", func() {
			lane, ok := model.ParseLane("middle")

			convey.Convey("Then it should be rejected", func() {
				convey.So(ok, convey.ShouldBeFalse)
				convey.So(lane, convey.ShouldEqual, model.LaneUndefined)
			})
		})
	})
}

func TestResult(t *testing.T) {
	convey.Convey("Given result names", t, func() {
		cases := map[string]model.Result{
			"winner":    model.ResultWinner,
			"Winner":    model.ResultWinner,
			"runner-up": model.ResultRunnerUp,
			"runnerup":  model.ResultRunnerUp,
			"runner_up": model.ResultRunnerUp,
			"undefined": model.ResultUndefined,
		}

		convey.Convey("Then every alias should map to its result", func() {
			for name, want := range cases {
				got, ok := model.ParseResult(name)
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(got, convey.ShouldEqual, want)
			}
		})

		convey.Convey("Then garbage should be rejected", func() {
			_, ok := model.ParseResult("dnf?")
			convey.So(ok, convey.ShouldBeFalse)
		})
	})
}

func TestParseOutcome(t *testing.T) {
	convey.Convey("Given parse outcomes", t, func() {
		convey.Convey("Then an outcome without errors is OK", func() {
			convey.So(model.ParseOutcome{ContentHash: "a"}.OK(), convey.ShouldBeTrue)
		})

		convey.Convey("Then an outcome with errors is not OK", func() {
			o := model.ParseOutcome{Errors: []string{"column 5: bad lane: x"}}
			convey.So(o.OK(), convey.ShouldBeFalse)
		})

		convey.Convey("Then change kinds render their names", func() {
			convey.So(model.ChangeAddOrUpdate.String(), convey.ShouldEqual, "add_or_update")
			convey.So(model.ChangeDelete.String(), convey.ShouldEqual, "delete")
		})
	})
}
