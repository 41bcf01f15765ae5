package protocol

// Metrics is one telemetry sample. Everything except CpuPct, ram and
// diskFreeGb is optional; a nil field means the sensor is unavailable,
// never zero.
type Metrics struct {
	CPUPct        *float64 `json:"cpuPct,omitempty"`
	CPUTempC      *float64 `json:"cpuTempC,omitempty"`
	GPUName       string   `json:"gpuName,omitempty"`
	GPUPct        *float64 `json:"gpuPct,omitempty"`
	GPUTempC      *float64 `json:"gpuTempC,omitempty"`
	GPUMemUsedMb  *int     `json:"gpuMemUsedMb,omitempty"`
	GPUMemTotalMb *int     `json:"gpuMemTotalMb,omitempty"`
	RAMUsedMb     *int     `json:"ramUsedMb,omitempty"`
	RAMTotalMb    *int     `json:"ramTotalMb,omitempty"`
	DiskFreeGb    *float64 `json:"diskFreeGb,omitempty"`
	Disks         []Disk   `json:"disks,omitempty"`
}

// Disk describes one fixed filesystem in a metrics sample.
type Disk struct {
	Name    string  `json:"name"`
	TotalGb float64 `json:"totalGb"`
	FreeGb  float64 `json:"freeGb"`
}
