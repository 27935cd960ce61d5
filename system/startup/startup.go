// Package startup installs and verifies the systemd unit for the
// controller process, and assembles the bridge/config/engine triple the
// rest of main wires together. Grounded on the teacher's own
// system/startup package: the unit-file templating, the
// exists/enabled/active status check via systemctl, and the
// permission-error/sudo-guidance handling are all carried over nearly
// verbatim. What's dropped is the GPIO boot script and the second
// ("GPIO service") unit — this domain has no GPIO pins to initialize at
// boot; TRVs sit on their own bus and are addressed through Bridge, and
// the handful of hard-wired relays (see bridge.RelayBridge) default
// safely off at process construction rather than needing a oneshot unit
// ahead of the main service.
package startup

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/hydronic-controller/internal/bridge"
	"github.com/thatsimonsguy/hydronic-controller/internal/config"
	"github.com/thatsimonsguy/hydronic-controller/internal/engine"
	"github.com/thatsimonsguy/hydronic-controller/internal/persistence"
)

// ServiceStatus mirrors systemctl's view of one unit.
type ServiceStatus struct {
	Exists  bool
	Enabled bool
	Active  bool
}

// Bootstrap loads config, constructs the bridge (an in-memory entity
// table decorated with physical relay driving when relayPins is
// non-empty), and builds the Engine. It does not start the Engine; the
// caller calls Engine.Start. This is the one
// place cmd/hydronic-controller and cmd/debug both call into so their
// wiring can never drift apart.
func Bootstrap(relayPins map[string]bridge.RelayPin) (*config.Config, bridge.Bridge, *engine.Engine) {
	cfg := config.Load()

	var b bridge.Bridge = bridge.NewMemory()
	if len(relayPins) > 0 {
		b = bridge.NewRelayBridge(b, relayPins, cfg.SafeMode)
	}

	opts := engine.Options{EntityPrefix: "hydronic"}
	if cfg.Paths.StateFile != "" {
		opts.StateStore = persistence.New(cfg.Paths.StateFile)
	}
	if cfg.Paths.PumpOverrunFile != "" {
		opts.PumpOverrunStore = persistence.New(cfg.Paths.PumpOverrunFile)
	}
	opts.CSVDir = cfg.Paths.CSVDir
	opts.EventDBPath = cfg.Paths.EventDBFile

	eng := engine.New(cfg, b, opts)
	return cfg, b, eng
}

// InstallService writes /etc/systemd/system/<name>.service pointing at
// execPath, run as user in workdir, restarting on failure — the same
// shape as the teacher's InstallHVACService, generalized from a
// hard-coded "oebus"/"hvac-controller" pairing to parameters.
func InstallService(unitPath, name, user, workdir, execPath string) error {
	unit := fmt.Sprintf(`[Unit]
Description=Hydronic heating controller
After=network.target

[Service]
Type=simple
User=%s
WorkingDirectory=%s
Environment=PATH=/usr/local/go/bin:/usr/local/bin:/usr/bin:/bin
ExecStart=%s
Restart=on-failure
RestartSec=5s

[Install]
WantedBy=multi-user.target
`, user, workdir, execPath)

	_ = name
	return os.WriteFile(unitPath, []byte(unit), 0o644)
}

// CheckServiceStatus reports whether unitPath's service file exists and
// its enabled/active state per systemctl.
func CheckServiceStatus(unitPath string) (ServiceStatus, error) {
	var status ServiceStatus

	if _, err := os.Stat(unitPath); err == nil {
		status.Exists = true
	} else if !os.IsNotExist(err) {
		return status, err
	}
	if !status.Exists {
		return status, nil
	}

	name := filepath.Base(unitPath)
	if err := exec.Command("systemctl", "is-enabled", name).Run(); err == nil {
		status.Enabled = true
	}
	if err := exec.Command("systemctl", "is-active", name).Run(); err == nil {
		status.Active = true
	}
	return status, nil
}

// EnsureServiceReady installs the unit if missing, reloads systemd, and
// enables it — the service is left for the caller (or the admin) to
// start explicitly, matching the teacher's own "install once, start by
// hand or let systemd's WantedBy handle the next boot" posture.
func EnsureServiceReady(unitPath, name, user, workdir, execPath string) error {
	log.Info().Str("service", name).Msg("checking service status")

	status, err := CheckServiceStatus(unitPath)
	if err != nil {
		return fmt.Errorf("check service status: %w", err)
	}

	if !status.Exists {
		log.Info().Str("service", name).Msg("service unit not found, installing")
		if err := InstallService(unitPath, name, user, workdir, execPath); err != nil {
			if isPermissionError(err) {
				printSudoGuidance(execPath)
				return fmt.Errorf("service installation requires elevated privileges")
			}
			return fmt.Errorf("install service: %w", err)
		}
		if err := exec.Command("systemctl", "daemon-reload").Run(); err != nil {
			if isPermissionError(err) {
				printSudoGuidance(execPath)
				return fmt.Errorf("systemd reload requires elevated privileges")
			}
			return fmt.Errorf("daemon-reload: %w", err)
		}
		status, err = CheckServiceStatus(unitPath)
		if err != nil {
			return err
		}
	}

	if status.Exists && !status.Enabled {
		log.Info().Str("service", name).Msg("enabling service")
		if err := exec.Command("systemctl", "enable", name).Run(); err != nil {
			if isPermissionError(err) {
				printSudoGuidance(execPath)
				return fmt.Errorf("service enable requires elevated privileges")
			}
			return fmt.Errorf("enable service: %w", err)
		}
	}

	log.Info().Str("service", name).Bool("exists", status.Exists).Bool("enabled", status.Enabled).
		Bool("active", status.Active).Msg("service ready")
	return nil
}

func isPermissionError(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, kw := range []string{"permission denied", "operation not permitted", "access denied", "insufficient privileges"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	if pathErr, ok := err.(*os.PathError); ok {
		if errno, ok := pathErr.Err.(syscall.Errno); ok {
			return errno == syscall.EACCES || errno == syscall.EPERM
		}
	}
	return false
}

func printSudoGuidance(execPath string) {
	fmt.Println()
	fmt.Println("PERMISSION ERROR: service installation requires elevated privileges")
	fmt.Println()
	fmt.Printf("Run once with sudo: sudo %s\n", execPath)
	fmt.Println("After that, the service is installed and you can run normally.")
	fmt.Println()
}
