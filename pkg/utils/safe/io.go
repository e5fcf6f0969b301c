package safe

import (
	"context"
	"io"

	"github.com/secmon-lab/mnemosyne/pkg/utils/logging"
)

// Close closes closer and logs a failure. A nil closer is ignored.
func Close(ctx context.Context, closer io.Closer) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.From(ctx).Error("Failed to close", "error", err)
	}
}

// CloseFunc returns a cleanup function that closes closer and logs a failure with
// name attached
func CloseFunc(ctx context.Context, name string, closer io.Closer) func() {
	return func() {
		if closer == nil {
			return
		}
		if err := closer.Close(); err != nil {
			logging.From(ctx).Error("Failed to close", "resource", name, "error", err)
		}
	}
}
