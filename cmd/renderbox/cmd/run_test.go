package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/psantana5/renderbox/internal/binding"
	"github.com/psantana5/renderbox/internal/dispatch"
	"github.com/psantana5/renderbox/internal/job"
)

func TestExitCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"Success", nil, dispatch.ExitSuccess},
		{"Validation", &job.ValidationError{Field: "name", Value: "../x", Reason: "unsafe"}, dispatch.ExitValidation},
		{"Configuration", &binding.ConfigurationError{Reason: "image tag is empty"}, dispatch.ExitConfiguration},
		{"Launch", &dispatch.LaunchError{Reason: "runtime missing"}, dispatch.ExitLaunch},
		{"Execution keeps workload code", &dispatch.ExecutionError{Code: 137}, 137},
		{"Cancelled", dispatch.ErrCancelled, dispatch.ExitCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeOf(tt.err))
		})
	}
}
