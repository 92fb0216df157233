package binding

import (
	"fmt"
	"os"

	"github.com/psantana5/renderbox/internal/job"
)

// ContainerWorkspace is the fixed container-side path the workspace root
// is always bound to. The workload's working directory is set here, so
// the scratch and output arguments it receives are relative to it.
const ContainerWorkspace = "/workspace"

// GPUEnableVar is exported into the container only when a GPU is visible
const GPUEnableVar = "GPU_ENABLE"

// ConfigurationError reports a binding that cannot be constructed
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// Mount maps one host path into the container
type Mount struct {
	HostPath      string
	ContainerPath string
}

// Config carries the dispatcher settings a binding depends on
type Config struct {
	// Image is the tag of the pre-built render image
	Image string

	// Command is the workload entrypoint inside the container,
	// e.g. ["python3", "render.py"]
	Command []string
}

// Binding is the fully resolved launch configuration for one job.
// Constructed once by Bind, consumed once by dispatch, never mutated.
type Binding struct {
	Image  string
	Mounts []Mount

	// UID and GID are the invoking host identity; the workload runs as
	// this user so output files on the host are not root-owned
	UID int
	GID int

	// DeviceVisibility names the GPU device(s) exposed; empty disables
	// GPU exposure entirely rather than defaulting to all devices
	DeviceVisibility string

	// Env is the environment exported into the container
	Env map[string]string

	// ContainerArgs is the full workload command line, including the
	// scratch and output directories as explicit arguments
	ContainerArgs []string
}

// identity is swappable in tests
var hostIdentity = func() (int, int, error) {
	uid := os.Getuid()
	gid := os.Getgid()
	if uid < 0 || gid < 0 {
		return 0, 0, fmt.Errorf("host uid/gid unavailable on this platform")
	}
	return uid, gid, nil
}

// Bind translates a resolved job request into the concrete launch
// configuration. The binding always mounts the workspace root at
// ContainerWorkspace and sets GPU_ENABLE=1 only when a device is visible.
func Bind(req *job.Request, cfg Config) (*Binding, error) {
	if cfg.Image == "" {
		return nil, &ConfigurationError{Reason: "image tag is empty"}
	}
	if len(cfg.Command) == 0 {
		return nil, &ConfigurationError{Reason: "workload command is empty"}
	}

	uid, gid, err := hostIdentity()
	if err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("cannot determine host identity: %v", err)}
	}

	env := make(map[string]string)
	if req.GPUSelector != "" {
		env[GPUEnableVar] = "1"
	}

	args := make([]string, 0, len(cfg.Command)+2)
	args = append(args, cfg.Command...)
	args = append(args,
		fmt.Sprintf("--scratch-dir=%s", req.ContainerScratchDir()),
		fmt.Sprintf("--job-dir=%s", req.ContainerOutputDir()),
	)

	return &Binding{
		Image: cfg.Image,
		Mounts: []Mount{
			{HostPath: req.WorkspaceRoot, ContainerPath: ContainerWorkspace},
		},
		UID:              uid,
		GID:              gid,
		DeviceVisibility: req.GPUSelector,
		Env:              env,
		ContainerArgs:    args,
	}, nil
}
