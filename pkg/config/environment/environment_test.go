// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package environment_test

import (
	"os"
	"testing"

	"github.com/antimetal/watchdog/pkg/config/environment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetNodeName(t *testing.T) {
	t.Setenv("NODE_NAME", "vehicle-7")
	name, err := environment.GetNodeName()
	require.NoError(t, err)
	assert.Equal(t, "vehicle-7", name)

	t.Setenv("NODE_NAME", "")
	hostname, err := os.Hostname()
	require.NoError(t, err)
	name, err = environment.GetNodeName()
	require.NoError(t, err)
	assert.Equal(t, hostname, name)
}

func TestGetHostPaths(t *testing.T) {
	tests := []struct {
		name     string
		hostProc string
		want     string
	}{
		{"default", "", "/proc"},
		{"override", "/host/proc/", "/host/proc"},
		{"relative ignored", "host/proc", "/proc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HOST_PROC", tt.hostProc)
			assert.Equal(t, tt.want, environment.GetHostPaths().Proc)
		})
	}
}
