package logging

import "testing"

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in  string
		lvl Level
		ok  bool
	}{
		{"error", LevelError, true},
		{"warn", LevelWarn, true},
		{"warning", LevelWarn, true},
		{"info", LevelInfo, true},
		{"debug", LevelDebug, true},
		{"trace", LevelDebug, true},
		{" DEBUG ", LevelDebug, true},
		{"", LevelWarn, false},
		{"loud", LevelWarn, false},
	}
	for _, c := range cases {
		lvl, ok := ParseLevel(c.in)
		if lvl != c.lvl || ok != c.ok {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v, %v", c.in, lvl, ok, c.lvl, c.ok)
		}
	}
}

func TestEnabled(t *testing.T) {
	old := Level(maxLevel.Load())
	defer SetLevel(old)

	SetLevel(LevelWarn)
	if !Enabled(LevelError) || !Enabled(LevelWarn) {
		t.Fatal("error/warn disabled at warn level")
	}
	if Enabled(LevelInfo) || Enabled(LevelDebug) {
		t.Fatal("info/debug enabled at warn level")
	}

	SetLevel(LevelDebug)
	if !Enabled(LevelDebug) {
		t.Fatal("debug disabled at debug level")
	}
}

func TestSetupFromEnv(t *testing.T) {
	old := Level(maxLevel.Load())
	defer SetLevel(old)

	t.Setenv("SANDBOX_LOG", "debug")
	Setup()
	if !Enabled(LevelDebug) {
		t.Fatal("SANDBOX_LOG=debug ignored")
	}

	// unrecognized values keep the current level
	t.Setenv("SANDBOX_LOG", "nonsense")
	SetLevel(LevelError)
	Setup()
	if Enabled(LevelWarn) {
		t.Fatal("bad SANDBOX_LOG value changed the level")
	}
}
