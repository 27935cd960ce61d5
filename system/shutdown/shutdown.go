// Package shutdown drives graceful process exit. Grounded on the
// teacher's own system/shutdown package — same two-function shape
// (Shutdown / ShutdownWithError) — generalized from a single hard-coded
// main-power GPIO relay deactivation to closing the Engine, which
// flushes its CSV telemetry and event-log writers. The persisted control
// state (room state, cycling protection, setpoint ramp) is written to
// disk on every recompute rather than only at shutdown, so a crash and a
// clean exit leave the same on-disk state; the boiler FSM is not
// persisted and starts in OFF on every run. Close only guarantees the
// last few telemetry rows aren't lost to buffering.
package shutdown

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/hydronic-controller/internal/config"
	"github.com/thatsimonsguy/hydronic-controller/internal/engine"
)

// Shutdown flushes the engine's writers and exits cleanly.
func Shutdown(eng *engine.Engine, cfg *config.Config) {
	eng.Close()
	log.Info().Msg("controller shut down cleanly")
	os.Exit(0)
}

// ShutdownWithError logs err as the shutdown cause and then shuts down
// the same way as Shutdown.
func ShutdownWithError(eng *engine.Engine, cfg *config.Config, err error, msg string) {
	log.Error().Err(err).Msg(msg)
	Shutdown(eng, cfg)
}
