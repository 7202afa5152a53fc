// Package host collects host metrics reported by the status endpoint
package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// Info is a snapshot of host metrics
type Info struct {
	CPUs            int     `json:"cpus"`
	MemUsedPercent  float64 `json:"mem_used_percent"`
	Load1           float64 `json:"load1"`
	DiskFreePercent float64 `json:"disk_free_percent"`
}

// Collect returns current host metrics. Metrics that can't be read are left zero
// and reported in the joined error, the rest of Info is still filled.
func Collect(ctx context.Context, diskPath string) (Info, error) {
	if diskPath == "" {
		diskPath = "/"
	}

	var res Info
	var errs []error

	if n, err := cpu.CountsWithContext(ctx, true); err != nil {
		errs = append(errs, fmt.Errorf("failed to get cpu count: %w", err))
	} else {
		res.CPUs = n
	}

	if v, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to get memory: %w", err))
	} else {
		res.MemUsedPercent = v.UsedPercent
	}

	if l, err := load.AvgWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to get load average: %w", err))
	} else {
		res.Load1 = l.Load1
	}

	if u, err := disk.UsageWithContext(ctx, diskPath); err != nil {
		errs = append(errs, fmt.Errorf("failed to get disk usage for %s: %w", diskPath, err))
	} else {
		res.DiskFreePercent = 100 - u.UsedPercent
	}

	return res, errors.Join(errs...)
}
