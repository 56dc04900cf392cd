package types_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/okian/racefeed/internal/domain/model"
	"github.com/okian/racefeed/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func sampleRecord() *model.RaceResultRecord {
	finish := 5678 * time.Millisecond
	speed := 140.1
	return &model.RaceResultRecord{
		EventID:     "ev-1",
		RaceID:      101,
		Round:       "Q1",
		RacerID:     "SB123",
		Lane:        model.LaneLeft,
		Result:      model.ResultRunnerUp,
		Timestamp:   time.Date(2021, time.July, 12, 0, 0, 5, 0, time.UTC),
		FinishTime:  &finish,
		FinishSpeed: &speed,
	}
}

func TestNewResult(t *testing.T) {
	Convey("Given a stored record", t, func() {
		res := types.NewResult("00ff00ff00ff00ff", sampleRecord())

		Convey("Then enums should be rendered by name", func() {
			So(res.Lane, ShouldEqual, "left")
			So(res.Result, ShouldEqual, "runner-up")
			So(res.ContentHash, ShouldEqual, "00ff00ff00ff00ff")
		})

		Convey("Then durations should be rendered in seconds", func() {
			So(*res.FinishTime, ShouldAlmostEqual, 5.678, 1e-9)
			So(*res.FinishSpeed, ShouldEqual, 140.1)
		})

		Convey("Then absent measurements should be omitted from JSON", func() {
			raw, err := json.Marshal(res)
			So(err, ShouldBeNil)
			So(string(raw), ShouldNotContainSubstring, "sixty_feet")
			So(string(raw), ShouldContainSubstring, `"racer_id":"SB123"`)
		})
	})
}

func TestNewBatch(t *testing.T) {
	Convey("Given a batch with an add and a delete", t, func() {
		msg := model.BatchMessage{
			Sequence: 3,
			Items: []model.ChangeEvent{
				{Kind: model.ChangeDelete, EventID: "ev-1", ContentHash: "aaaa"},
				{Kind: model.ChangeAddOrUpdate, EventID: "ev-1", ContentHash: "bbbb", Record: sampleRecord()},
			},
		}

		Convey("When converting it", func() {
			b := types.NewBatch(msg)

			Convey("Then sequence and order should be kept", func() {
				So(b.Sequence, ShouldEqual, 3)
				So(b.Items, ShouldHaveLength, 2)
				So(b.Items[0].Kind, ShouldEqual, "delete")
				So(b.Items[1].Kind, ShouldEqual, "add_or_update")
			})

			Convey("Then only the add should carry a result", func() {
				So(b.Items[0].Result, ShouldBeNil)
				So(b.Items[1].Result, ShouldNotBeNil)
				So(b.Items[1].Result.ContentHash, ShouldEqual, "bbbb")
			})
		})
	})
}
