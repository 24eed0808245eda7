package cordwood

import "testing"

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelError, "ERR"},
		{LevelWarn, "WAR"},
		{LevelInfo, "INF"},
		{LevelDebug, "DBG"},
		{Level(0), "???"},
		{Level(99), "???"},
		{Level(-1), "???"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q; want %q", int(tt.level), got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"ERR", LevelError},
		{"error", LevelError},
		{"WAR", LevelWarn},
		{"warn", LevelWarn},
		{"Warning", LevelWarn},
		{"INF", LevelInfo},
		{"info", LevelInfo},
		{"DBG", LevelDebug},
		{"debug", LevelDebug},
		{" debug ", LevelDebug},
		{"", LevelInfo},
		{"trace", LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestLevelOrdering(t *testing.T) {
	// severity tightens toward LevelError, so filters can compare levels
	// directly
	if !(LevelError < LevelWarn && LevelWarn < LevelInfo && LevelInfo < LevelDebug) {
		t.Errorf("levels out of order: ERR=%d WAR=%d INF=%d DBG=%d",
			LevelError, LevelWarn, LevelInfo, LevelDebug)
	}
}
