// Command hydronic-controller is the process entrypoint: it loads
// config, builds the bridge and Engine via system/startup.Bootstrap,
// wires bridge state-change listeners and the unconditional poll timer
// to Engine.TriggerRecompute, serves the REST API, and shuts down
// cleanly on SIGINT/SIGTERM. Grounded on the teacher's own
// cmd/hvac-controller/main.go: config load, safe-mode log banner,
// signal handling, and a blocking main goroutine are carried over
// directly; what's new is registering Bridge listeners/timers instead
// of driving a single controller.Run(ctx) loop, since this domain's
// dataflow is event-driven recompute rather than one hand-rolled poll
// loop (spec.md §5).
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/hydronic-controller/internal/api"
	"github.com/thatsimonsguy/hydronic-controller/internal/config"
	"github.com/thatsimonsguy/hydronic-controller/internal/engine"
	"github.com/thatsimonsguy/hydronic-controller/internal/logging"
	"github.com/thatsimonsguy/hydronic-controller/system/shutdown"
	"github.com/thatsimonsguy/hydronic-controller/system/startup"
)

func main() {
	cfg, _, eng := startup.Bootstrap(nil)
	logging.Init(cfg.LogLevel, cfg.LogFile, cfg.LogConsole)

	log.Info().
		Str("rooms_file", cfg.Paths.RoomsFile).
		Str("schedules_file", cfg.Paths.SchedulesFile).
		Str("boiler_file", cfg.Paths.BoilerFile).
		Int("rooms", len(cfg.Rooms)).
		Msg("starting hydronic controller")

	if cfg.SafeMode {
		log.Warn().Msg("SAFE MODE ENABLED — physical relay writes are suppressed")
	}

	now := time.Now()
	eng.Start(now)
	eng.RecomputeAll(now)

	registerListeners(eng, cfg)

	server := api.NewServer(eng)
	go func() {
		if err := server.Start(cfg.APIPort); err != nil {
			log.Error().Err(err).Msg("REST API server stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutdown signal received")
	shutdown.Shutdown(eng, cfg)
}

// registerListeners wires every sensor/TRV/boiler entity this room set
// cares about to TriggerRecompute, plus the unconditional poll tick
// (spec.md §5: "event-driven recompute, plus an unconditional interval
// as a backstop"). The poll tick first reloads the config files when one
// of their mtimes has changed. The bridge, not this loop, owns actual I/O and
// timing; this function only tells it what to call back into.
func registerListeners(eng *engine.Engine, cfg *config.Config) {
	b := eng.Bridge()

	onChange := func(entity, oldState, newState string) {
		eng.TriggerRecompute(time.Now(), "state_change:"+entity)
	}

	for _, room := range cfg.Rooms {
		for _, sensor := range room.Sensors {
			b.ListenState(sensor.EntityID, onChange)
		}
		b.ListenState(room.TRV.FeedbackEntity(), onChange)
	}

	b.ListenState(cfg.Boiler.FlameEntity(), onChange)
	b.ListenState(cfg.Boiler.ReturnTempEntity(), onChange)
	b.ListenState(cfg.Boiler.FlowTempEntity(), onChange)
	b.ListenState(cfg.Boiler.DHWActiveEntity(), onChange)

	interval := time.Duration(cfg.PollIntervalSeconds) * time.Second
	b.RunEvery(time.Now(), interval, func(now time.Time) {
		if cfg.Changed() {
			if err := eng.Mutate(now, cfg.Reload); err != nil {
				log.Error().Err(err).Msg("config reload failed; previous config kept")
			}
		}
		eng.TriggerRecompute(now, "poll")
	})
}
