package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestComponentTagsLogger(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, LevelDebug)

	Component("downloader").Info().Msg("enqueued task")

	out := buf.String()
	if !strings.Contains(out, `"component":"downloader"`) {
		t.Errorf("expected component field in log output, got %s", out)
	}
	if !strings.Contains(out, "enqueued task") {
		t.Errorf("expected message in log output, got %s", out)
	}
}

func TestSetRemoteLevelGatesOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, LevelError)

	Component("resolver").Debug().Msg("should be suppressed")
	if buf.Len() != 0 {
		t.Fatalf("expected debug log to be suppressed at error level, got %s", buf.String())
	}

	SetRemoteLevel(LevelDebug)
	Component("resolver").Debug().Msg("should appear")
	if buf.Len() == 0 {
		t.Fatal("expected debug log to appear once remote level allows it")
	}
}

func TestToZerologMapping(t *testing.T) {
	cases := map[RemoteLevel]zerolog.Level{
		LevelDebug: zerolog.DebugLevel,
		LevelInfo:  zerolog.InfoLevel,
		LevelAudit: zerolog.WarnLevel,
		LevelError: zerolog.ErrorLevel,
		"":         zerolog.InfoLevel,
	}
	for remote, want := range cases {
		if got := toZerolog(remote); got != want {
			t.Errorf("toZerolog(%q) = %v, want %v", remote, got, want)
		}
	}
}
