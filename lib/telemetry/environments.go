package telemetry

import (
	"context"
	"errors"
	"os"

	"stemsync/lib/configutil"
)

// TelemetryFile is looked up from the working directory towards the root
// when the main config does not export anything.
const TelemetryFile = "telemetry.json5"

// SetupWithFallback uses `config` when it exports something, otherwise
// the nearest TelemetryFile. Without either telemetry stays disabled.
func SetupWithFallback(ctx context.Context, serviceName string, config Config) (Telemetry, error) {
	if config.Enabled() {
		return Setup(ctx, serviceName, config)
	}
	found, err := configutil.ReadRecursively[Config](TelemetryFile)
	if errors.Is(err, os.ErrNotExist) {
		return Telemetry{}, nil
	}
	if err != nil {
		return Telemetry{}, err
	}
	return Setup(ctx, serviceName, found)
}
