//go:build linux

package metrics

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"tiledeck/internal/protocol"
)

func newPlatformSampler() Sampler {
	return &procSampler{}
}

// procSampler reads /proc. CPU load is the delta between consecutive
// samples, so the first call reports 0%.
type procSampler struct {
	mu        sync.Mutex
	prevIdle  uint64
	prevTotal uint64
}

func (s *procSampler) Sample() (protocol.Metrics, error) {
	var m protocol.Metrics

	cpu, err := s.cpuPct()
	if err != nil {
		return m, fmt.Errorf("read cpu: %w", err)
	}
	m.CPUPct = f64(cpu)

	if used, total, ok := memMb(); ok {
		m.RAMUsedMb = i(used)
		m.RAMTotalMb = i(total)
	}
	if temp, ok := cpuTempC(); ok {
		m.CPUTempC = f64(temp)
	}

	disks := fixedDisks()
	if len(disks) > 0 {
		m.Disks = disks
		m.DiskFreeGb = f64(disks[0].FreeGb)
	}
	return m, nil
}

// cpuPct computes utilisation from /proc/stat deltas.
func (s *procSampler) cpuPct() (float64, error) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return 0, err
	}
	line, _, _ := strings.Cut(string(data), "\n")
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, fmt.Errorf("unexpected /proc/stat format")
	}

	var total, idle uint64
	for n, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			break
		}
		total += v
		if n == 3 || n == 4 { // idle + iowait
			idle += v
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	dTotal := total - s.prevTotal
	dIdle := idle - s.prevIdle
	first := s.prevTotal == 0
	s.prevTotal, s.prevIdle = total, idle

	if first || dTotal == 0 {
		return 0, nil
	}
	pct := 100 * float64(dTotal-dIdle) / float64(dTotal)
	return math.Round(pct*10) / 10, nil
}

// memMb reads /proc/meminfo. Used = total - available.
func memMb() (used, total int, ok bool) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, 0, false
	}
	var totalKb, availKb uint64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		v, _ := strconv.ParseUint(fields[1], 10, 64)
		switch fields[0] {
		case "MemTotal:":
			totalKb = v
		case "MemAvailable:":
			availKb = v
		}
	}
	if totalKb == 0 || availKb == 0 {
		return 0, 0, false
	}
	return int((totalKb - availKb) / 1024), int(totalKb / 1024), true
}

// cpuTempC probes the first thermal zone, millidegrees Celsius.
func cpuTempC() (float64, bool) {
	data, err := os.ReadFile("/sys/class/thermal/thermal_zone0/temp")
	if err != nil {
		return 0, false
	}
	milli, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || milli <= 0 {
		return 0, false
	}
	return float64(milli) / 1000, true
}

// fixedDisks lists real block-device mounts from /proc/mounts.
func fixedDisks() []protocol.Disk {
	data, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var disks []protocol.Disk
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.HasPrefix(fields[0], "/dev/") {
			continue
		}
		mount := fields[1]
		if seen[fields[0]] {
			continue
		}
		var st syscall.Statfs_t
		if err := syscall.Statfs(mount, &st); err != nil {
			continue
		}
		totalGb := float64(st.Blocks) * float64(st.Bsize) / (1 << 30)
		freeGb := float64(st.Bavail) * float64(st.Bsize) / (1 << 30)
		if totalGb < 0.1 {
			continue
		}
		seen[fields[0]] = true
		disks = append(disks, protocol.Disk{
			Name:    mount,
			TotalGb: math.Round(totalGb*10) / 10,
			FreeGb:  math.Round(freeGb*10) / 10,
		})
	}
	return disks
}
