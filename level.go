package cordwood

import "strings"

// Level represents the severity of a record, ordered from most severe
// (LevelError) to most verbose (LevelDebug). The zero value is not a
// valid level; levels outside the defined range render as "???" in the
// output rather than failing the write.
type Level int

const (
	// LevelError is for failures that affect functionality.
	LevelError Level = iota + 1
	// LevelWarn is for unexpected conditions that don't prevent operation.
	LevelWarn
	// LevelInfo is for normal operational events.
	LevelInfo
	// LevelDebug is for verbose diagnostic information.
	LevelDebug
)

// String returns the three-letter tag recorded in the log file.
func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERR"
	case LevelWarn:
		return "WAR"
	case LevelInfo:
		return "INF"
	case LevelDebug:
		return "DBG"
	default:
		return "???"
	}
}

// ParseLevel maps a level name to a Level, accepting both the recorded
// tags ("ERR", "WAR", "INF", "DBG") and the common long forms,
// case-insensitively. Unrecognized names map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERR", "ERROR":
		return LevelError
	case "WAR", "WARN", "WARNING":
		return LevelWarn
	case "INF", "INFO":
		return LevelInfo
	case "DBG", "DEBUG":
		return LevelDebug
	default:
		return LevelInfo
	}
}
