package debug

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (run phases, summary)
	LevelLive    = 2 // Live info (tile progress, captures, decisions)
	LevelVerbose = 3 // Verbose (command dispatch, step math)
	LevelTrace   = 4 // Trace (adapter calls, very low level)
)

var (
	level  int
	logger *log.Logger
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (phases, run summary)
// 2 = live info (per-tile progress, captures, decisions)
// 3 = verbose (every command, computed step targets)
// 4 = trace (adapter calls, serial/GPIO traffic)
func Init(debugLevel int) {
	level = debugLevel
	if level > LevelOff {
		logger = log.New(os.Stdout, "[mirrorcal] ", log.LstdFlags|log.Lmicroseconds)
	}
}

// SetOutput redirects log output (e.g. to a MultiWriter feeding the web UI).
func SetOutput(w io.Writer) {
	if logger != nil {
		logger.SetOutput(w)
	}
}

// Level returns the current debug level.
func Level() int {
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return level >= minLevel
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[INFO] "+format, args...)
	}
}

// Phase prints a run phase transition (level 1).
func Phase(phase string) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[INFO] Phase: %s", phase)
	}
}

// Summary prints an important summary banner (level 1).
func Summary(title string) {
	if level >= LevelOff && logger != nil {
		logger.Printf("═══════════════════════════════════════")
		logger.Printf("  %s", title)
		logger.Printf("═══════════════════════════════════════")
	}
}

// Grid prints grid info (level 1).
func Grid(rows, cols, calibratable int) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[INFO] Grid: %d rows x %d cols, %d calibratable tiles", rows, cols, calibratable)
	}
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[INFO]   %s = %v", name, value)
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if level >= LevelLive && logger != nil {
		logger.Printf("[LIVE] "+format, args...)
	}
}

// Tile prints per-tile progress (level 2).
func Tile(key, status string) {
	if level >= LevelLive && logger != nil {
		logger.Printf("[LIVE] Tile %s: %s", key, status)
	}
}

// Capture prints a capture outcome (level 2).
func Capture(attempt int, found bool) {
	if level >= LevelLive && logger != nil {
		logger.Printf("[LIVE] Capture attempt %d: found=%v", attempt, found)
	}
}

// Decision prints a pending or resolved user decision (level 2).
func Decision(reason, option string) {
	if level >= LevelLive && logger != nil {
		if option == "" {
			logger.Printf("[LIVE] Awaiting decision (%s)", reason)
		} else {
			logger.Printf("[LIVE] Decision (%s): %s", reason, option)
		}
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("[VERBOSE] "+format, args...)
	}
}

// Printf is an alias for Verbose for compatibility.
func Printf(format string, args ...interface{}) {
	Verbose(format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("[VERBOSE] %s: %+v", name, v)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		logger.Printf("  %s", name)
		logger.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Command prints a dispatched command (level 3).
func Command(kind string, detail string) {
	if level >= LevelVerbose && logger != nil {
		if detail == "" {
			logger.Printf("[VERBOSE] Command %s", kind)
		} else {
			logger.Printf("[VERBOSE] Command %s: %s", kind, detail)
		}
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace, adapter calls).
func Trace(format string, args ...interface{}) {
	if level >= LevelTrace && logger != nil {
		logger.Printf("[TRACE] "+format, args...)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if level >= LevelTrace && logger != nil {
		logger.Printf("[GPIO] %s pin=%d value=%v", operation, pin, value)
	}
}

// Motor prints a motor adapter call (level 4).
func Motor(mac string, motorIndex, steps int) {
	if level >= LevelTrace && logger != nil {
		logger.Printf("[MOTOR] %s/%d -> %d steps", mac, motorIndex, steps)
	}
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[ERROR] %v", err)
	}
}

// Fmt is a helper function that returns a formatted string
// only if debug is enabled (to avoid unnecessary allocations).
func Fmt(format string, args ...interface{}) string {
	if level > 0 {
		return fmt.Sprintf(format, args...)
	}
	return ""
}
