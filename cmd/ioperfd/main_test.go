// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antimetal/watchdog/pkg/performance"
)

func writeStatus(sink performance.Sink) error {
	return sink.WriteStatus(performance.DumpStatus{Mode: performance.ModePeriodic})
}

func TestDumpTo(t *testing.T) {
	defer func(prev string) { dumpFormat = prev }(dumpFormat)

	var buf bytes.Buffer
	dumpFormat = "text"
	require.NoError(t, dumpTo(&buf, writeStatus))
	assert.Contains(t, buf.String(), "Collection mode: PERIODIC")

	buf.Reset()
	dumpFormat = "yaml"
	require.NoError(t, dumpTo(&buf, writeStatus))
	assert.Contains(t, buf.String(), "mode: PERIODIC")

	dumpFormat = "xml"
	assert.Error(t, dumpTo(&buf, writeStatus))
}
