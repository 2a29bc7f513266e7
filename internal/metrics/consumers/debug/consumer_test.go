// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package debug

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/antimetal/watchdog/internal/metrics"
	"github.com/antimetal/watchdog/pkg/performance"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedLogs struct {
	mu       sync.Mutex
	messages []string
}

func (c *capturedLogs) logger(t *testing.T) logr.Logger {
	return funcr.NewJSON(func(obj string) {
		var line struct {
			Msg string `json:"msg"`
		}
		assert.NoError(t, json.Unmarshal([]byte(obj), &line))
		c.mu.Lock()
		defer c.mu.Unlock()
		c.messages = append(c.messages, line.Msg)
	}, funcr.Options{})
}

func (c *capturedLogs) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages...)
}

func testRecordEvent(mode performance.CollectionMode) metrics.MetricEvent {
	reader := performance.UserIOStats{UID: 1000, Name: "com.example.maps"}
	reader.Bytes[performance.MetricRead][performance.StateForeground] = 4096
	record := performance.Record{
		Time: time.Unix(1700000000, 0),
		UserIO: performance.UserIOData{
			TopNReads: []performance.UserIOStats{reader},
		},
		System: performance.SystemData{IOWaitTime: 25, TotalCPUTime: 100, BlockedProcesses: 2, TotalProcesses: 40},
		Process: performance.ProcessData{
			TopNIOBlocked:            []performance.ProcessStats{{PID: 42, Comm: "flushd", Count: 3}},
			TotalMajorFaults:         150,
			MajorFaultsPercentChange: 50,
		},
	}
	return metrics.MetricEvent{
		Timestamp:      record.Time,
		Source:         metrics.SourceIOPerf,
		NodeName:       "head-unit",
		MetricType:     metrics.MetricTypeIOPerf,
		EventType:      metrics.EventTypeSnapshot,
		CollectionMode: mode.String(),
		Data:           &performance.RecordEvent{Mode: mode, Record: record},
	}
}

func TestConfig_Validate(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())

	config.LogLevel = LogLevel(7)
	assert.ErrorIs(t, config.Validate(), ErrInvalidLogLevel)

	config = DefaultConfig()
	config.LogFormat = "xml"
	assert.ErrorIs(t, config.Validate(), ErrInvalidLogFormat)

	config = DefaultConfig()
	config.MaxDataLength = -1
	require.NoError(t, config.Validate())
	assert.Zero(t, config.MaxDataLength)

	assert.Equal(t, "verbose", LogLevelVerbose.String())
	assert.Equal(t, "unknown(7)", LogLevel(7).String())
}

func TestConsumer_TextOutput(t *testing.T) {
	logs := &capturedLogs{}
	config := DefaultConfig()
	config.IncludeTimestamp = false
	consumer, err := NewConsumer(config, logs.logger(t))
	require.NoError(t, err)
	require.NoError(t, consumer.Start(context.Background()))

	require.NoError(t, consumer.HandleEvent(testRecordEvent(performance.ModePeriodic)))

	lines := logs.all()
	require.NotEmpty(t, lines)
	last := lines[len(lines)-1]
	for _, want := range []string{
		"Mode: PERIODIC",
		"IOWait: 25.00%",
		"Blocked: 2/40",
		"MajorFaults: 150 (+50.00%)",
		"Node: head-unit",
		"TopReader: com.example.maps(1000)=4096",
		"TopIOBlocked: flushd(42)=3",
	} {
		assert.Contains(t, last, want)
	}
	assert.NotContains(t, last, "TopWriter")

	health := consumer.Health()
	assert.True(t, health.Healthy)
	assert.Equal(t, uint64(1), health.EventsCount)
}

func TestConsumer_JSONOutput(t *testing.T) {
	logs := &capturedLogs{}
	config := DefaultConfig()
	config.LogFormat = LogFormatJSON
	config.LogLevel = LogLevelVerbose
	config.MaxDataLength = 0
	consumer, err := NewConsumer(config, logs.logger(t))
	require.NoError(t, err)

	require.NoError(t, consumer.HandleEvent(testRecordEvent(performance.ModeBootTime)))

	lines := logs.all()
	require.Len(t, lines, 1)
	var entry LogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, consumerName, entry.Consumer)
	require.NotNil(t, entry.Record)
	assert.Equal(t, "BOOT_TIME", entry.Record.Mode)
	assert.InDelta(t, 25.0, entry.Record.IOWaitPercent, 1e-9)
	require.NotNil(t, entry.Record.TopReader)
	assert.Equal(t, "com.example.maps", entry.Record.TopReader.Name)
	assert.NotNil(t, entry.Data)
	assert.False(t, entry.Timestamp.IsZero())
}

func TestConsumer_Filtering(t *testing.T) {
	logs := &capturedLogs{}
	config := DefaultConfig()
	config.ModeFilter = []string{"CUSTOM"}
	consumer, err := NewConsumer(config, logs.logger(t))
	require.NoError(t, err)

	require.NoError(t, consumer.HandleEvent(testRecordEvent(performance.ModePeriodic)))
	require.NoError(t, consumer.HandleEvent(metrics.MetricEvent{MetricType: "other"}))
	assert.Empty(t, logs.all())

	require.NoError(t, consumer.HandleEvent(testRecordEvent(performance.ModeCustom)))
	assert.Len(t, logs.all(), 1)
	assert.Equal(t, map[string]uint64{"CUSTOM": 1}, consumer.Stats().EventsByMode)
}

func TestConsumer_UnexpectedData(t *testing.T) {
	consumer, err := NewConsumer(DefaultConfig(), logr.Discard())
	require.NoError(t, err)

	err = consumer.HandleEvent(metrics.MetricEvent{MetricType: metrics.MetricTypeIOPerf, Data: "nope"})
	assert.ErrorIs(t, err, ErrUnexpectedData)

	health := consumer.Health()
	assert.Equal(t, uint64(1), health.ErrorsCount)
	assert.ErrorIs(t, health.LastError, ErrUnexpectedData)
}

func TestConsumer_Truncate(t *testing.T) {
	config := DefaultConfig()
	config.MaxDataLength = 16
	consumer, err := NewConsumer(config, logr.Discard())
	require.NoError(t, err)

	out := consumer.truncate(performance.Record{})
	assert.True(t, strings.HasPrefix(out, `{"Time":"0001-01`), out)
	assert.Contains(t, out, "... (truncated from")
}
