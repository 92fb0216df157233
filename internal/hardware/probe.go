package hardware

import (
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// GPU is one device as reported by the driver
type GPU struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// Probe is a snapshot of everything the dispatcher needs from the host:
// is the runtime there, are there devices to expose, and the usual
// CPU/RAM context for sizing.
type Probe struct {
	OS            string `json:"os"`
	Arch          string `json:"arch"`
	CPUModel      string `json:"cpu_model"`
	CPUThreads    int    `json:"cpu_threads"`
	RAMTotalBytes uint64 `json:"ram_total_bytes"`
	GPUs          []GPU  `json:"gpus"`
	RuntimePath   string `json:"runtime_path,omitempty"`
	RuntimeFound  bool   `json:"runtime_found"`
}

// smiQuery is swappable in tests
var smiQuery = func() ([]byte, error) {
	return exec.Command("nvidia-smi", "--query-gpu=index,name", "--format=csv,noheader").Output()
}

// Detect probes the current host. Failures are soft: a host without a
// GPU or without the runtime still yields a probe, just with those
// sections empty, so doctor can print what is missing.
func Detect(runtimeBinary string) *Probe {
	p := &Probe{
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		CPUThreads: runtime.NumCPU(),
		CPUModel:   "Unknown",
		GPUs:       DetectGPUs(),
	}

	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		p.CPUModel = infos[0].ModelName
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		p.RAMTotalBytes = vm.Total
	}

	if path, err := exec.LookPath(runtimeBinary); err == nil {
		p.RuntimePath = path
		p.RuntimeFound = true
	}

	return p
}

// DetectGPUs enumerates NVIDIA devices via nvidia-smi
func DetectGPUs() []GPU {
	out, err := smiQuery()
	if err != nil || len(out) == 0 {
		return nil
	}
	return parseSMIOutput(string(out))
}

func parseSMIOutput(out string) []GPU {
	var gpus []GPU
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.SplitN(line, ",", 2)
		if len(parts) != 2 {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			continue
		}
		gpus = append(gpus, GPU{Index: idx, Name: strings.TrimSpace(parts[1])})
	}
	return gpus
}

// HasDevice reports whether the probe saw the given device index
func (p *Probe) HasDevice(index int) bool {
	for _, g := range p.GPUs {
		if g.Index == index {
			return true
		}
	}
	return false
}
