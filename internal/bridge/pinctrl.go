package bridge

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// pinctrl shells out to the Raspberry Pi `pinctrl` utility, exactly as
// the teacher's internal/pinctrl package does. Kept as a thin, literal
// adaptation: the relay layer below is the only caller, and it only
// drives a handful of hard-wired entities (boiler demand relay, safety
// valve relay) rather than every zone valve, since TRVs in this domain
// are modulating (0-100%) actuators addressed over their own bus, not
// GPIO relays.

func pinctrlReadLevel(pin int) (bool, error) {
	cmd := exec.Command("pinctrl", "lev", fmt.Sprint(pin))
	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("failed to read level for pin %d: %w", pin, err)
	}
	switch strings.TrimSpace(string(out)) {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, fmt.Errorf("unexpected pinctrl lev output: %q", strings.TrimSpace(string(out)))
	}
}

func pinctrlSet(pin int, opts ...string) error {
	args := append([]string{"set", strconv.Itoa(pin)}, opts...)
	cmd := exec.Command("pinctrl", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pinctrl set failed: %w (output: %s)", err, string(out))
	}
	return nil
}
