package hardware

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func fakeSMI(t *testing.T, out string, err error) {
	t.Helper()
	orig := smiQuery
	smiQuery = func() ([]byte, error) { return []byte(out), err }
	t.Cleanup(func() { smiQuery = orig })
}

func TestDetectGPUs(t *testing.T) {
	t.Run("Two devices", func(t *testing.T) {
		fakeSMI(t, "0, NVIDIA GeForce RTX 3080\n1, NVIDIA GeForce RTX 3090\n", nil)

		gpus := DetectGPUs()
		assert.Equal(t, []GPU{
			{Index: 0, Name: "NVIDIA GeForce RTX 3080"},
			{Index: 1, Name: "NVIDIA GeForce RTX 3090"},
		}, gpus)
	})

	t.Run("No driver", func(t *testing.T) {
		fakeSMI(t, "", errors.New("exec: nvidia-smi: not found"))
		assert.Nil(t, DetectGPUs())
	})

	t.Run("Garbage lines skipped", func(t *testing.T) {
		fakeSMI(t, "0, RTX 3080\nnot-a-device\n", nil)
		gpus := DetectGPUs()
		assert.Len(t, gpus, 1)
	})
}

func TestProbe_HasDevice(t *testing.T) {
	p := &Probe{GPUs: []GPU{{Index: 0, Name: "RTX 3080"}}}
	assert.True(t, p.HasDevice(0))
	assert.False(t, p.HasDevice(1))
}
