// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package performance

// Receiver accepts records as the scheduler stores them.
// Receivers are called on the collection worker and should not block.
type Receiver interface {
	// Accept processes one stored record. data is a *RecordEvent.
	Accept(data any) error

	// Name returns the receiver's name for logging and identification.
	Name() string
}
