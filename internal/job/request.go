package job

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

const (
	// DefaultName is the job slot used when the caller supplies no name
	DefaultName = "0"

	// DefaultGPUSelector is the device index used when the selector
	// variable is not present in the environment at all
	DefaultGPUSelector = "0"

	// GPUSelectorVar is the host environment variable naming the GPU
	// device(s) to expose. Set-but-empty means "no GPU".
	GPUSelectorVar = "CUDA_VISIBLE_DEVICES"

	outputSegment  = "output"
	scratchSegment = "output_cache"
)

// nameRe rejects anything that could escape the output tree or be
// interpreted as a flag by the runtime command line.
var nameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ValidationError reports an unusable job name or workspace
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %q: %s", e.Field, e.Value, e.Reason)
}

// Environ is the process environment injected into Resolve.
// Lookup mirrors os.LookupEnv so resolution never reads ambient state.
type Environ interface {
	Lookup(key string) (string, bool)
}

// OSEnviron reads the real process environment
type OSEnviron struct{}

func (OSEnviron) Lookup(key string) (string, bool) { return os.LookupEnv(key) }

// MapEnviron is a fixed environment, used by tests and the HTTP API
type MapEnviron map[string]string

func (m MapEnviron) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Request is the canonical description of one render job. Built once by
// Resolve, then threaded unchanged through binding and dispatch.
type Request struct {
	// Name identifies the job and keys its output paths
	Name string

	// GPUSelector names the device(s) to expose; empty means no GPU
	GPUSelector string

	// WorkspaceRoot is the absolute host directory bound into the container
	WorkspaceRoot string

	// ScratchDir is WorkspaceRoot/output/output_cache/<Name> on the host
	ScratchDir string

	// OutputDir is WorkspaceRoot/output/<Name> on the host
	OutputDir string
}

// Resolve validates caller input and derives the canonical job request.
//
// Name defaults to "0" when empty. The GPU selector comes from
// CUDA_VISIBLE_DEVICES: an unset variable falls back to device index 0,
// while an explicitly empty value disables GPU exposure downstream.
//
// Two concurrent invocations sharing a name race on the same scratch and
// output directories. Callers that run jobs in parallel must supply
// unique names; Resolve does not lock or collision-check.
func Resolve(rawName string, env Environ, workspaceRoot string) (*Request, error) {
	name := rawName
	if name == "" {
		name = DefaultName
	}
	if !nameRe.MatchString(name) {
		return nil, &ValidationError{Field: "name", Value: name, Reason: "must be a path-safe identifier"}
	}

	if !filepath.IsAbs(workspaceRoot) {
		return nil, &ValidationError{Field: "workspace", Value: workspaceRoot, Reason: "must be an absolute path"}
	}
	info, err := os.Stat(workspaceRoot)
	if err != nil {
		return nil, &ValidationError{Field: "workspace", Value: workspaceRoot, Reason: "does not exist"}
	}
	if !info.IsDir() {
		return nil, &ValidationError{Field: "workspace", Value: workspaceRoot, Reason: "is not a directory"}
	}

	selector := DefaultGPUSelector
	if v, ok := env.Lookup(GPUSelectorVar); ok {
		selector = v
	}

	req := &Request{
		Name:          name,
		GPUSelector:   selector,
		WorkspaceRoot: workspaceRoot,
		ScratchDir:    filepath.Join(workspaceRoot, outputSegment, scratchSegment, name),
		OutputDir:     filepath.Join(workspaceRoot, outputSegment, name),
	}

	for _, dir := range []string{req.ScratchDir, req.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &ValidationError{Field: "workspace", Value: dir, Reason: fmt.Sprintf("cannot create: %v", err)}
		}
	}

	return req, nil
}

// ContainerScratchDir returns the scratch path as the workload sees it,
// relative to the container-side workspace mount.
func (r *Request) ContainerScratchDir() string {
	return filepath.ToSlash(filepath.Join(outputSegment, scratchSegment, r.Name))
}

// ContainerOutputDir returns the output path relative to the mount
func (r *Request) ContainerOutputDir() string {
	return filepath.ToSlash(filepath.Join(outputSegment, r.Name))
}
