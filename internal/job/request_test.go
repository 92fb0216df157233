package job

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_DerivedPaths(t *testing.T) {
	ws := t.TempDir()

	tests := []struct {
		name        string
		rawName     string
		wantName    string
		wantScratch string
		wantOutput  string
	}{
		{
			name:        "Default job slot",
			rawName:     "",
			wantName:    "0",
			wantScratch: filepath.Join(ws, "output", "output_cache", "0"),
			wantOutput:  filepath.Join(ws, "output", "0"),
		},
		{
			name:        "Named job",
			rawName:     "run-17",
			wantName:    "run-17",
			wantScratch: filepath.Join(ws, "output", "output_cache", "run-17"),
			wantOutput:  filepath.Join(ws, "output", "run-17"),
		},
		{
			name:        "Dotted name",
			rawName:     "scene.v2",
			wantName:    "scene.v2",
			wantScratch: filepath.Join(ws, "output", "output_cache", "scene.v2"),
			wantOutput:  filepath.Join(ws, "output", "scene.v2"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Resolve(tt.rawName, MapEnviron{}, ws)
			require.NoError(t, err)

			assert.Equal(t, tt.wantName, req.Name)
			assert.Equal(t, tt.wantScratch, req.ScratchDir)
			assert.Equal(t, tt.wantOutput, req.OutputDir)
			assert.NotEqual(t, req.ScratchDir, req.OutputDir)

			// both directories are created on demand
			assert.DirExists(t, req.ScratchDir)
			assert.DirExists(t, req.OutputDir)
		})
	}
}

func TestResolve_RejectsUnsafeNames(t *testing.T) {
	ws := t.TempDir()

	for _, bad := range []string{
		"../escape",
		"a/b",
		"..",
		".hidden",
		"-flag",
		"name with spaces",
	} {
		t.Run(bad, func(t *testing.T) {
			_, err := Resolve(bad, MapEnviron{}, ws)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "name", verr.Field)
		})
	}
}

func TestResolve_WorkspaceValidation(t *testing.T) {
	t.Run("Relative root rejected", func(t *testing.T) {
		_, err := Resolve("0", MapEnviron{}, "relative/path")
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "workspace", verr.Field)
	})

	t.Run("Missing root rejected", func(t *testing.T) {
		_, err := Resolve("0", MapEnviron{}, filepath.Join(t.TempDir(), "nope"))
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	})
}

func TestResolve_GPUSelector(t *testing.T) {
	ws := t.TempDir()

	t.Run("Unset defaults to device 0", func(t *testing.T) {
		req, err := Resolve("0", MapEnviron{}, ws)
		require.NoError(t, err)
		assert.Equal(t, "0", req.GPUSelector)
	})

	t.Run("Explicit empty disables GPU", func(t *testing.T) {
		req, err := Resolve("0", MapEnviron{GPUSelectorVar: ""}, ws)
		require.NoError(t, err)
		assert.Equal(t, "", req.GPUSelector)
	})

	t.Run("Explicit value passes through", func(t *testing.T) {
		req, err := Resolve("0", MapEnviron{GPUSelectorVar: "1,3"}, ws)
		require.NoError(t, err)
		assert.Equal(t, "1,3", req.GPUSelector)
	})
}

func TestRequest_ContainerPaths(t *testing.T) {
	ws := t.TempDir()
	req, err := Resolve("run-17", MapEnviron{}, ws)
	require.NoError(t, err)

	assert.Equal(t, "output/output_cache/run-17", req.ContainerScratchDir())
	assert.Equal(t, "output/run-17", req.ContainerOutputDir())
}
