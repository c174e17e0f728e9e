// Modul: locate.go
// Beschreibung: Auswahl von Plattform und Geraet fuer einen Evaluierungs-Aufruf.
// Enthaelt Locate (GPU mit einmaligem CPU-Fallback), Handles und deren Freigabe.

package discover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/genevo/fiteval/envconfig"
	"github.com/genevo/fiteval/ml"
)

// Preference restricts which device class Locate may acquire.
type Preference string

const (
	PreferAuto Preference = "auto"
	PreferGPU  Preference = "gpu"
	PreferCPU  Preference = "cpu"
)

// PreferenceFromEnv returns the preference configured by FITEVAL_DEVICE.
func PreferenceFromEnv() Preference {
	return Preference(envconfig.Device())
}

// Handles is the set of driver handles owned by one evaluation. Close
// releases the queue before the context.
type Handles struct {
	Platform ml.Platform
	Device   ml.Device
	Context  ml.Context
	Queue    ml.Queue

	once     sync.Once
	closeErr error
}

// Close releases every acquired handle. It is safe to call more than once
// and on a partially populated set.
func (h *Handles) Close() error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		var errs []error
		if h.Queue != nil {
			if err := h.Queue.Release(); err != nil {
				errs = append(errs, fmt.Errorf("release queue: %w", err))
			}
		}
		if h.Context != nil {
			if err := h.Context.Release(); err != nil {
				errs = append(errs, fmt.Errorf("release context: %w", err))
			}
		}
		h.closeErr = errors.Join(errs...)
	})
	return h.closeErr
}

// Locate picks the first platform the driver reports, acquires a GPU on it
// (falling back once to a CPU device of the same platform) and creates a
// context and an in-order queue for that device.
func Locate(ctx context.Context, drv ml.Driver, pref Preference) (*Handles, error) {
	if err := ctx.Err(); err != nil {
		return nil, ml.Canceled(ml.StageLocate, err)
	}

	start := time.Now()
	defer func() {
		slog.Debug("device discovery took", "duration", time.Since(start))
	}()

	platforms, err := drv.Platforms()
	if err != nil {
		return nil, ml.NewError(ml.StageLocate, ml.ErrPlatform, ml.OpNoPlatform, err)
	}
	if len(platforms) == 0 {
		return nil, ml.NewError(ml.StageLocate, ml.ErrPlatform, ml.OpNoPlatform,
			fmt.Errorf("%s driver reports no platforms", drv.Name()))
	}

	h := &Handles{Platform: platforms[0]}
	h.Device, err = selectDevice(h.Platform, pref)
	if err != nil {
		return nil, err
	}

	h.Context, err = h.Device.CreateContext()
	if err != nil {
		return nil, ml.NewError(ml.StageLocate, ml.ErrResourceCreation, ml.OpContextCreation, err)
	}

	h.Queue, err = h.Context.CreateQueue(h.Device)
	if err != nil {
		if cerr := h.Close(); cerr != nil {
			slog.Warn("failed to release partially acquired device", "error", cerr)
		}
		return nil, ml.NewError(ml.StageLocate, ml.ErrResourceCreation, ml.OpQueueCreation, err)
	}

	slog.Debug("acquired device", "platform", h.Platform.Info().Name, "device", h.Device.Info())
	return h, nil
}

func selectDevice(p ml.Platform, pref Preference) (ml.Device, error) {
	var errs []error
	if pref != PreferCPU {
		devices, err := p.Devices(ml.DeviceTypeGPU)
		if err == nil && len(devices) > 0 {
			return devices[0], nil
		}
		if err == nil {
			err = ml.ErrDeviceNotFound
		}
		errs = append(errs, fmt.Errorf("gpu: %w", err))
		if pref == PreferGPU {
			return nil, ml.NewError(ml.StageLocate, ml.ErrPlatform, ml.OpNoDevice, errors.Join(errs...))
		}
		slog.Debug("no gpu available, falling back to cpu", "platform", p.Info().Name, "error", err)
	}

	devices, err := p.Devices(ml.DeviceTypeCPU)
	if err == nil && len(devices) > 0 {
		return devices[0], nil
	}
	if err == nil {
		err = ml.ErrDeviceNotFound
	}
	errs = append(errs, fmt.Errorf("cpu: %w", err))
	return nil, ml.NewError(ml.StageLocate, ml.ErrPlatform, ml.OpNoDevice, errors.Join(errs...))
}
