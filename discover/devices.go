// Modul: devices.go
// Beschreibung: Auflistung aller Plattformen und Geraete eines Treibers.
// Enthaelt Devices, LogDetails und Warnungen bei Benutzer-Overrides.

package discover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/genevo/fiteval/envconfig"
	"github.com/genevo/fiteval/format"
	"github.com/genevo/fiteval/ml"
)

// Devices lists every device on every platform the driver reports, in
// enumeration order.
func Devices(ctx context.Context, drv ml.Driver) ([]ml.DeviceInfo, error) {
	overrideWarnings()

	platforms, err := drv.Platforms()
	if err != nil {
		return nil, ml.NewError(ml.StageLocate, ml.ErrPlatform, ml.OpNoPlatform, err)
	}

	var infos []ml.DeviceInfo
	for _, p := range platforms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		devices, err := p.Devices(ml.DeviceTypeAll)
		if errors.Is(err, ml.ErrDeviceNotFound) {
			continue
		} else if err != nil {
			return nil, fmt.Errorf("platform %q: %w", p.Info().Name, err)
		}
		for _, d := range devices {
			infos = append(infos, d.Info())
		}
	}
	return infos, nil
}

// LogDetails logs one line per device
func LogDetails(devices []ml.DeviceInfo) {
	if len(devices) == 0 {
		slog.Info("no compute devices detected")
		return
	}
	for _, group := range ml.ByType(devices) {
		for _, d := range group {
			slog.Info("compute device",
				"backend", d.Backend,
				"platform", d.Platform,
				"name", d.Name,
				"type", d.Type,
				"compute_units", d.ComputeUnits,
				"memory", format.HumanBytes2(d.GlobalMemory),
				"driver", d.DriverVersion,
			)
		}
	}
}

func overrideWarnings() {
	anyFound := false
	for _, k := range []string{
		"FITEVAL_BACKEND",
		"FITEVAL_DEVICE",
		"OCL_ICD_VENDORS",
		"OCL_ICD_FILENAMES",
	} {
		if v := envconfig.Var(k); v != "" {
			anyFound = true
			slog.Warn("user overrode device selection", k, v)
		}
	}
	if anyFound {
		slog.Warn("if devices are not correctly discovered, unset and try again")
	}
}
