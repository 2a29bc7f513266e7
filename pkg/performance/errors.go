// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package performance

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when a control call does not apply to the
	// current collection mode. The call has no side effects.
	ErrInvalidState = errors.New("invalid collection state transition")

	// ErrInvalidArgument is returned for out-of-range custom collection settings
	// and missing sinks.
	ErrInvalidArgument = errors.New("invalid collection argument")

	// ErrSourceRead is returned when a counter source fails to produce a snapshot.
	ErrSourceRead = errors.New("counter source read failed")

	// ErrIdentityResolve is returned when user ids cannot be resolved to names.
	ErrIdentityResolve = errors.New("identity resolve failed")

	// ErrSourceUnavailable is wrapped in ErrSourceRead when a source that was
	// enabled at start reports itself disabled.
	ErrSourceUnavailable = errors.New("counter source no longer available")

	// ErrNoSourcesEnabled is returned when every counter source is disabled.
	ErrNoSourcesEnabled = errors.New("no counter sources enabled")

	// ErrBufferEmpty is returned when a report finds no records.
	ErrBufferEmpty = errors.New("no collected records")
)

func invalidState(op string, mode CollectionMode) error {
	return fmt.Errorf("%s: %w: current mode is %s", op, ErrInvalidState, mode)
}
