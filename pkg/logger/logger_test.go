package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoggerInit(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() {
		if err := Sync(); err != nil {
			t.Errorf("failed to sync logger: %v", err)
		}
	}()

	if Get() == nil {
		t.Fatal("logger is nil after initialization")
	}
}

func TestLoggerFormats(t *testing.T) {
	Convey("Given a logger writing to a buffer", t, func() {
		var buf bytes.Buffer
		ctx := context.Background()

		Convey("json output carries typed fields", func() {
			So(Init(WithFormat(FormatJSON), WithOutput(&buf)), ShouldBeNil)
			Get().Info(ctx, "settled",
				Int64("participant", 42),
				Bool("fresh", true),
				Duration("took", 1500*time.Millisecond),
			)

			var line map[string]any
			So(json.Unmarshal(buf.Bytes(), &line), ShouldBeNil)
			So(line["msg"], ShouldEqual, "settled")
			So(line["participant"], ShouldEqual, float64(42))
			So(line["fresh"], ShouldEqual, true)
			So(line["source"], ShouldContainSubstring, "logger_test.go")
		})

		Convey("text output includes the component name", func() {
			So(Init(WithOutput(&buf)), ShouldBeNil)
			Named("matchmaking").Warn(ctx, "queue drained", Int("groups", 2))
			out := buf.String()
			So(out, ShouldContainSubstring, "component=matchmaking")
			So(out, ShouldContainSubstring, "groups=2")
		})

		Convey("debug lines are dropped at info level", func() {
			So(Init(WithOutput(&buf)), ShouldBeNil)
			Get().Debug(ctx, "hidden")
			So(buf.Len(), ShouldEqual, 0)

			So(SetLevelString("debug"), ShouldBeNil)
			Get().Debug(ctx, "shown")
			So(strings.Contains(buf.String(), "shown"), ShouldBeTrue)
			So(SetLevelString("info"), ShouldBeNil)
		})

		Convey("unknown formats and levels are rejected", func() {
			So(Init(WithFormat("xml")), ShouldNotBeNil)
			So(SetLevelString("loud"), ShouldNotBeNil)
			So(Init(), ShouldBeNil)
		})
	})
}

func TestLoggerNamed(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	namedLogger := Named("test")
	if namedLogger == nil {
		t.Fatal("named logger is nil")
	}
	namedLogger.Info(context.Background(), "test message")
}
