package logx

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelWarn,
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("%q：不期望错误：%v", in, err)
		}
		if got != want {
			t.Fatalf("%q：期望 %v，实际 %v", in, want, got)
		}
	}
	_, err := ParseLevel("verbose")
	if err == nil {
		t.Fatalf("期望未知级别报错")
	}
	if !strings.Contains(err.Error(), "debug|info|warn|error") {
		t.Fatalf("错误信息应列出可选级别：%v", err)
	}
	for _, name := range Levels {
		if _, err := ParseLevel(name); err != nil {
			t.Fatalf("Levels 中的 %q 应可解析：%v", name, err)
		}
	}
}

func TestNew_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, "warn")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	l.Info("hidden")
	l.Warn("shown", Err(errors.New("boom")))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info 不应输出：%s", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "error=boom") {
		t.Fatalf("warn 输出不完整：%s", out)
	}
}

func TestOrAndNop(t *testing.T) {
	if Or(nil) != slog.Default() {
		t.Fatalf("nil 应回退到 slog.Default()")
	}
	l := NewNop()
	if Or(l) != l {
		t.Fatalf("非 nil 应原样返回")
	}
	l.Error("discarded")
}
