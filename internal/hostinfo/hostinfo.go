// Package hostinfo reads facts about the submit host for the report
// header.
package hostinfo

import (
	"context"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// Facts describes the submit host at collection time.
type Facts struct {
	Hostname string
	Platform string
	Kernel   string
	CPUs     int
	MemoryMB uint64
	Load1    float64
}

// Prober gathers host facts. The read functions default to gopsutil
// and are swappable for tests.
type Prober struct {
	hostInfo func(context.Context) (*host.InfoStat, error)
	cpuCount func(context.Context, bool) (int, error)
	memory   func(context.Context) (*mem.VirtualMemoryStat, error)
	loadAvg  func(context.Context) (*load.AvgStat, error)
}

// NewProber creates a prober backed by the local system.
// Params: none.
// Returns: configured prober.
func NewProber() *Prober {
	return &Prober{
		hostInfo: host.InfoWithContext,
		cpuCount: cpu.CountsWithContext,
		memory:   mem.VirtualMemoryWithContext,
		loadAvg:  load.AvgWithContext,
	}
}

// Probe reads hostname, platform, CPU count, memory size, and load.
// Params: ctx for cancellation.
// Returns: host facts or first read error.
func (p *Prober) Probe(ctx context.Context) (Facts, error) {
	info, err := p.hostInfo(ctx)
	if err != nil {
		return Facts{}, fmt.Errorf("read host info: %w", err)
	}

	cpus, err := p.cpuCount(ctx, true)
	if err != nil {
		return Facts{}, fmt.Errorf("count CPUs: %w", err)
	}

	vm, err := p.memory(ctx)
	if err != nil {
		return Facts{}, fmt.Errorf("read memory: %w", err)
	}

	avg, err := p.loadAvg(ctx)
	if err != nil {
		return Facts{}, fmt.Errorf("read load average: %w", err)
	}

	return Facts{
		Hostname: info.Hostname,
		Platform: strings.TrimSpace(info.Platform + " " + info.PlatformVersion),
		Kernel:   info.KernelVersion,
		CPUs:     cpus,
		MemoryMB: vm.Total >> 20,
		Load1:    avg.Load1,
	}, nil
}
