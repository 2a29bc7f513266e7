// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package performance

import (
	"time"
)

// Collection is the retained history of one collection mode.
type Collection struct {
	Mode       CollectionMode
	Interval   time.Duration
	MaxRecords int
	Records    []Record
}

// DumpStatus describes the scheduler at the time of a dump.
type DumpStatus struct {
	Mode      CollectionMode
	Sources   []SourceStatus
	LastError error // error that terminated collection, if any
}

// Sink receives dumped collections. Implementations own the output format.
type Sink interface {
	WriteStatus(status DumpStatus) error
	WriteCollection(collection Collection) error
}

// RecordEvent is handed to receivers for every stored record.
type RecordEvent struct {
	Mode   CollectionMode
	Record Record
}
