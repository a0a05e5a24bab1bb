package errors

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Process exit codes.
const (
	ExitOK         = 0
	ExitFailed     = 1  // entries failed, or an unclassified error
	ExitUsage      = 2  // invalid parameter
	ExitConfig     = 7  // configuration file problems
	ExitInternal   = 10 // bug or impossible state
	ExitFileSystem = 11 // output tree could not be prepared
	ExitRuntime    = 12 // run could not start, e.g. lock held
)

var exitCodes = map[ErrorCategory]int{
	CategoryValidation: ExitUsage,
	CategoryConfig:     ExitConfig,
	CategoryInventory:  ExitConfig,
	CategoryBuild:      ExitFailed,
	CategorySource:     ExitFailed,
	CategoryDecode:     ExitFailed,
	CategoryEncode:     ExitFailed,
	CategoryFileSystem: ExitFileSystem,
	CategoryRuntime:    ExitRuntime,
	CategoryInternal:   ExitInternal,
}

// CLIErrorAdapter turns a command's error into a message on stderr and an exit code.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
	stderr  io.Writer
	exit    func(int)
}

// NewCLIErrorAdapter creates a new CLI error adapter.
func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{verbose: verbose, logger: logger, stderr: os.Stderr, exit: os.Exit}
}

// ExitCodeFor determines the appropriate exit code for an error.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	ibe, ok := As(err)
	if !ok {
		return ExitFailed
	}
	if code, ok := exitCodes[ibe.Category]; ok {
		return code
	}
	return ExitFailed
}

// FormatError renders err for the terminal. Verbose mode shows category and
// severity; otherwise configuration problems print their message alone.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}
	ibe, ok := As(err)
	switch {
	case !ok:
		return fmt.Sprintf("Error: %v", err)
	case a.verbose:
		return ibe.Error()
	case ibe.Category == CategoryConfig || ibe.Category == CategoryValidation:
		return ibe.Message
	default:
		return fmt.Sprintf("%s: %s", ibe.Category, ibe.Message)
	}
}

// HandleError reports err and exits with its code. A nil err is a no-op.
func (a *CLIErrorAdapter) HandleError(err error) {
	if err == nil {
		return
	}
	if a.shouldLog(err) {
		a.logError(err)
	}
	fmt.Fprintln(a.stderr, a.FormatError(err))
	a.exit(a.ExitCodeFor(err))
}

// shouldLog keeps ordinary entry failures out of the log; the report already lists them.
func (a *CLIErrorAdapter) shouldLog(err error) bool {
	ibe, ok := As(err)
	if a.verbose || !ok {
		return true
	}
	return ibe.Severity == SeverityFatal || ibe.Category == CategoryInternal || ibe.Category == CategoryRuntime
}

func (a *CLIErrorAdapter) logError(err error) {
	ibe, ok := As(err)
	if !ok {
		a.logger.Error("Unclassified error", slog.String("error", err.Error()))
		return
	}
	attrs := make([]slog.Attr, 0, len(ibe.Context)+2)
	attrs = append(attrs, slog.String("category", string(ibe.Category)))
	for k, v := range ibe.Context {
		attrs = append(attrs, slog.Any(k, v))
	}
	if ibe.Cause != nil {
		attrs = append(attrs, slog.String("cause", ibe.Cause.Error()))
	}
	a.logger.LogAttrs(context.Background(), levelOf(ibe.Severity), ibe.Message, attrs...)
}

func levelOf(s ErrorSeverity) slog.Level {
	switch s {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
