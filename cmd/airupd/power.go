package main

import "github.com/airup-sh/airupd/internal/logger"

// noopPowerManager satisfies milestone.PowerManager/rpc.PowerManager
// without touching the kernel. Power-management bindings are out of
// scope for the core (spec §1); a real daemon build wires a platform
// implementation here instead.
type noopPowerManager struct{}

func (noopPowerManager) Poweroff() error {
	logger.Noticef("power: poweroff requested (no-op power manager)")
	return nil
}

func (noopPowerManager) Reboot() error {
	logger.Noticef("power: reboot requested (no-op power manager)")
	return nil
}

func (noopPowerManager) Halt() error {
	logger.Noticef("power: halt requested (no-op power manager)")
	return nil
}
