// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package bootwatch

import "flag"

var flagMarker *string

func init() {
	flagMarker = flag.String("boot-marker", "",
		"File whose appearance marks the end of boot; boot is treated as finished at startup when empty")
}

// MarkerPath returns the marker file configured with -boot-marker.
func MarkerPath() string {
	if flagMarker == nil {
		return ""
	}
	return *flagMarker
}
