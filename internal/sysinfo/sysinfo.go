// Package sysinfo collects local system statistics for heartbeat reports.
package sysinfo

import (
	"context"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// DefaultCPUWindow is how long CPU times are sampled to compute load percentages.
const DefaultCPUWindow = time.Second

// Statistics is the snapshot attached to a heartbeat when statistics are enabled.
type Statistics struct {
	Mount             []MountInfo       `json:"mount"`
	Network           NetworkInfo       `json:"network"`
	NetworkStatistics NetworkStatistics `json:"network_statistics"`
	Memory            MemoryInfo        `json:"memory"`
	CPU               CPULoadInfo       `json:"cpu"`
	LoadAvg           LoadAvg           `json:"loadavg"`
	Uptime            uint64            `json:"uptime"`
	BootTime          string            `json:"boot_time"`
}

// MountInfo describes one mounted filesystem.
type MountInfo struct {
	MountFrom  string `json:"mount_from"`
	MountType  string `json:"mount_type"`
	MountOn    string `json:"mount_on"`
	MountAvail uint64 `json:"mount_avail"`
	MountTotal uint64 `json:"mount_total"`
}

// NetworkInfo maps interface names to their addresses.
type NetworkInfo struct {
	Interfaces map[string][]string `json:"interfaces"`
}

// InterfaceStatistics holds cumulative counters of one interface.
type InterfaceStatistics struct {
	RxBytes   uint64 `json:"rx_bytes"`
	TxBytes   uint64 `json:"tx_bytes"`
	RxPackets uint64 `json:"rx_packets"`
	TxPackets uint64 `json:"tx_packets"`
	RxErrors  uint64 `json:"rx_errors"`
	TxErrors  uint64 `json:"tx_errors"`
}

// NetworkStatistics maps interface names to their counters.
type NetworkStatistics struct {
	Interfaces map[string]InterfaceStatistics `json:"interfaces"`
}

// MemoryInfo holds memory usage in bytes.
type MemoryInfo struct {
	Used  uint64 `json:"used"`
	Total uint64 `json:"total"`
}

// CPULoadInfo holds CPU time percentages over the sampling window.
type CPULoadInfo struct {
	User   float64 `json:"user"`
	System float64 `json:"system"`
	Idle   float64 `json:"idle"`
}

// LoadAvg holds the 1, 5 and 15 minute load averages.
type LoadAvg struct {
	Last1  float64 `json:"last1"`
	Last5  float64 `json:"last5"`
	Last15 float64 `json:"last15"`
}

// RegisterData is sent once at startup to announce the client.
type RegisterData struct {
	Hostname string `json:"hostname"`
	BootTime int64  `json:"boot_time"`
	OSName   string `json:"os,omitempty"`
	Kernel   string `json:"kernel,omitempty"`
	Arch     string `json:"arch,omitempty"`
}

// Collector gathers statistics. A failing section is logged and left at its
// zero value so one broken source does not drop the whole report.
type Collector struct {
	log       zerolog.Logger
	cpuWindow time.Duration
}

// NewCollector returns a Collector sampling CPU load over DefaultCPUWindow.
func NewCollector(log zerolog.Logger) *Collector {
	return &Collector{log: log, cpuWindow: DefaultCPUWindow}
}

// Collect gathers a statistics snapshot. It only fails when ctx is done
// before the CPU sample completes.
func (c *Collector) Collect(ctx context.Context) (*Statistics, error) {
	// Start the CPU sample first; everything else is read while it runs.
	before, cpuErr := cpu.TimesWithContext(ctx, false)

	stats := &Statistics{
		Mount:             c.mounts(ctx),
		Network:           c.network(ctx),
		NetworkStatistics: c.networkStatistics(ctx),
		Memory:            c.memory(ctx),
		LoadAvg:           c.loadAvg(ctx),
	}

	if uptime, err := host.UptimeWithContext(ctx); err == nil {
		stats.Uptime = uptime
	} else {
		c.log.Error().Err(err).Msg("Failed to fetch uptime")
	}
	if boot, err := host.BootTimeWithContext(ctx); err == nil {
		stats.BootTime = time.Unix(int64(boot), 0).UTC().Format(time.RFC3339)
	} else {
		c.log.Error().Err(err).Msg("Failed to fetch boot time")
	}

	if cpuErr != nil || len(before) == 0 {
		c.log.Error().Err(cpuErr).Msg("Failed to fetch CPU times")
		return stats, nil
	}

	select {
	case <-time.After(c.cpuWindow):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	after, err := cpu.TimesWithContext(ctx, false)
	if err != nil || len(after) == 0 {
		c.log.Error().Err(err).Msg("Failed to fetch CPU times")
		return stats, nil
	}
	stats.CPU = cpuLoad(before[0], after[0])

	return stats, nil
}

// Register gathers the data sent with the register action.
func (c *Collector) Register(ctx context.Context) (*RegisterData, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, err
	}
	boot, err := host.BootTimeWithContext(ctx)
	if err != nil {
		return nil, err
	}

	osName, kernel := getOSInfo(ctx)
	return &RegisterData{
		Hostname: hostname,
		BootTime: int64(boot),
		OSName:   osName,
		Kernel:   kernel,
		Arch:     runtime.GOARCH,
	}, nil
}

func (c *Collector) mounts(ctx context.Context) []MountInfo {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to fetch mounts")
		return []MountInfo{}
	}

	mounts := make([]MountInfo, 0, len(partitions))
	for _, p := range partitions {
		m := MountInfo{
			MountFrom: p.Device,
			MountType: p.Fstype,
			MountOn:   p.Mountpoint,
		}
		if usage, err := disk.UsageWithContext(ctx, p.Mountpoint); err == nil {
			m.MountAvail = usage.Free
			m.MountTotal = usage.Total
		} else {
			c.log.Debug().Err(err).Str("mount", p.Mountpoint).Msg("Failed to fetch mount usage")
		}
		mounts = append(mounts, m)
	}
	return mounts
}

func (c *Collector) network(ctx context.Context) NetworkInfo {
	info := NetworkInfo{Interfaces: map[string][]string{}}

	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to fetch network interfaces")
		return info
	}
	for _, iface := range ifaces {
		addrs := make([]string, 0, len(iface.Addrs))
		for _, a := range iface.Addrs {
			addrs = append(addrs, stripPrefixLen(a.Addr))
		}
		info.Interfaces[iface.Name] = addrs
	}
	return info
}

func (c *Collector) networkStatistics(ctx context.Context) NetworkStatistics {
	ns := NetworkStatistics{Interfaces: map[string]InterfaceStatistics{}}

	counters, err := psnet.IOCountersWithContext(ctx, true)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to fetch network statistics")
		return ns
	}
	for _, io := range counters {
		ns.Interfaces[io.Name] = InterfaceStatistics{
			RxBytes:   io.BytesRecv,
			TxBytes:   io.BytesSent,
			RxPackets: io.PacketsRecv,
			TxPackets: io.PacketsSent,
			RxErrors:  io.Errin,
			TxErrors:  io.Errout,
		}
	}
	return ns
}

func (c *Collector) memory(ctx context.Context) MemoryInfo {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to fetch memory usage")
		return MemoryInfo{}
	}
	used := uint64(0)
	if vm.Total > vm.Free {
		used = vm.Total - vm.Free
	}
	return MemoryInfo{Used: used, Total: vm.Total}
}

func (c *Collector) loadAvg(ctx context.Context) LoadAvg {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to fetch load average")
		return LoadAvg{}
	}
	return LoadAvg{Last1: avg.Load1, Last5: avg.Load5, Last15: avg.Load15}
}

// cpuLoad converts two cumulative CPU time samples into percentages.
func cpuLoad(before, after cpu.TimesStat) CPULoadInfo {
	total := totalTime(after) - totalTime(before)
	if total <= 0 {
		return CPULoadInfo{}
	}
	return CPULoadInfo{
		User:   (after.User + after.Nice - before.User - before.Nice) / total * 100,
		System: (after.System + after.Irq + after.Softirq - before.System - before.Irq - before.Softirq) / total * 100,
		Idle:   (after.Idle + after.Iowait - before.Idle - before.Iowait) / total * 100,
	}
}

func totalTime(t cpu.TimesStat) float64 {
	return t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq + t.Softirq + t.Steal
}

// stripPrefixLen turns "192.168.1.5/24" into "192.168.1.5".
func stripPrefixLen(addr string) string {
	if i := strings.IndexByte(addr, '/'); i >= 0 {
		return addr[:i]
	}
	return addr
}

// getOSInfo retrieves OS name and kernel version.
func getOSInfo(ctx context.Context) (string, string) {
	var osName, kernel string

	hostInfo, err := host.InfoWithContext(ctx)
	if err == nil {
		osName = hostInfo.Platform
		if hostInfo.PlatformVersion != "" {
			osName += " " + hostInfo.PlatformVersion
		}
		kernel = hostInfo.KernelVersion
	} else {
		osName = runtime.GOOS
	}

	if runtime.GOOS == "linux" {
		if prettyName := readOSReleasePrettyName(); prettyName != "" {
			osName = prettyName
		}
	}

	return osName, kernel
}

// readOSReleasePrettyName parses /etc/os-release for the PRETTY_NAME field.
func readOSReleasePrettyName() string {
	data, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "PRETTY_NAME=") {
			val := strings.TrimPrefix(line, "PRETTY_NAME=")
			return strings.Trim(val, "\"")
		}
	}
	return ""
}
