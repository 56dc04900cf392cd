package config_test

import (
	"context"
	"testing"
	"time"

	"github.com/okian/racefeed/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.LogFormat, convey.ShouldEqual, "text")
			convey.So(cfg.FetchTimeout(), convey.ShouldEqual, 10*time.Second)
			convey.So(cfg.BatchWindow(), convey.ShouldEqual, time.Second)
		})

		convey.Convey("Then the poll tiers should follow data age", func() {
			active, recent, dormant, unknown := cfg.PollDelays()
			convey.So(active, convey.ShouldEqual, 15*time.Second)
			convey.So(recent, convey.ShouldEqual, time.Hour)
			convey.So(dormant, convey.ShouldEqual, 24*time.Hour)
			convey.So(unknown, convey.ShouldEqual, time.Hour)

			activeWin, recentWin := cfg.AgeWindows()
			convey.So(activeWin, convey.ShouldEqual, 48*time.Hour)
			convey.So(recentWin, convey.ShouldEqual, 14*24*time.Hour)
		})

		convey.Convey("Then an empty timezone should resolve to UTC", func() {
			cfg.Timezone = ""
			loc, err := cfg.Location()
			convey.So(err, convey.ShouldBeNil)
			convey.So(loc, convey.ShouldEqual, time.UTC)
		})
	})
}
