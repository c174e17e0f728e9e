// device_info.go
// Dieses Modul enthaelt die PlatformInfo- und DeviceInfo-Strukturen und
// zugehoerige Funktionen fuer Geraete-Erkennung, Vergleich und Sortierung.

package ml

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/genevo/fiteval/format"
)

type PlatformInfo struct {
	// Index is the position of the platform in driver enumeration order
	Index int `json:"index"`

	Name    string `json:"name"`
	Vendor  string `json:"vendor,omitempty"`
	Version string `json:"version,omitempty"`
}

type DeviceInfo struct {
	// Backend is the driver that reported the device (opencl, host)
	Backend string `json:"backend"`

	// Platform is the name of the platform the device belongs to
	Platform string `json:"platform"`

	// Name is the name of the device as labeled by the driver
	Name string `json:"name"`

	Vendor string `json:"vendor,omitempty"`

	Type DeviceType `json:"type"`

	// ComputeUnits is the number of parallel compute units
	ComputeUnits int `json:"compute_units"`

	// GlobalMemory is the size of device global memory in bytes
	GlobalMemory uint64 `json:"global_memory"`

	// MaxWorkGroupSize is the largest work-group the device accepts
	MaxWorkGroupSize int `json:"max_work_group_size,omitempty"`

	// DriverVersion as reported by the driver
	DriverVersion string `json:"driver_version,omitempty"`
}

func (d DeviceInfo) String() string {
	return fmt.Sprintf("%s/%s %s (%s)", d.Backend, d.Platform, d.Name, d.Type)
}

func (d DeviceInfo) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("backend", d.Backend),
		slog.String("platform", d.Platform),
		slog.String("name", d.Name),
		slog.String("type", d.Type.String()),
		slog.Int("compute_units", d.ComputeUnits),
		slog.String("memory", format.HumanBytes2(d.GlobalMemory)),
	)
}

// Sort by compute units.
// CPUs are reported first, thus Reverse() yields the largest GPU first
type ByComputeUnits []DeviceInfo

func (a ByComputeUnits) Len() int      { return len(a) }
func (a ByComputeUnits) Swap(i, j int) { a[i], a[j] = a[j], a[i] }
func (a ByComputeUnits) Less(i, j int) bool {
	if a[i].Type != DeviceTypeGPU && a[j].Type == DeviceTypeGPU {
		return true
	} else if a[i].Type == DeviceTypeGPU && a[j].Type != DeviceTypeGPU {
		return false
	}
	return a[i].ComputeUnits < a[j].ComputeUnits
}

// ByType groups devices by device class, keeping first-seen order
func ByType(l []DeviceInfo) [][]DeviceInfo {
	resp := [][]DeviceInfo{}
	types := []DeviceType{}
	for _, info := range l {
		found := false
		for i, t := range types {
			if t == info.Type {
				resp[i] = append(resp[i], info)
				found = true
				break
			}
		}
		if !found {
			types = append(types, info.Type)
			resp = append(resp, []DeviceInfo{info})
		}
	}
	return resp
}

// Largest returns the device with the most compute units, preferring GPUs
func Largest(l []DeviceInfo) (DeviceInfo, bool) {
	if len(l) == 0 {
		return DeviceInfo{}, false
	}
	sorted := append([]DeviceInfo(nil), l...)
	sort.Sort(sort.Reverse(ByComputeUnits(sorted)))
	return sorted[0], true
}
