package logger

import (
	"log/slog"
	"os"
)

// New returns the process-wide structured logger. JSON output so the ledger
// event context (request_id, caller, token ids) stays machine-parseable.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}
