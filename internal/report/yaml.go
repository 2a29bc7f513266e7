// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package report

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/antimetal/watchdog/pkg/performance"
)

var _ performance.Sink = (*YAMLSink)(nil)

// YAMLSink writes the status and every collection as separate documents of
// one YAML stream.
type YAMLSink struct {
	enc *yaml.Encoder
}

func NewYAMLSink(w io.Writer) *YAMLSink {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	return &YAMLSink{enc: enc}
}

func (s *YAMLSink) WriteStatus(status performance.DumpStatus) error {
	return s.encode("status", NewStatusDoc(status))
}

func (s *YAMLSink) WriteCollection(collection performance.Collection) error {
	return s.encode("collection", NewCollectionDoc(collection))
}

// WriteRecord appends a single record produced in mode.
func (s *YAMLSink) WriteRecord(mode performance.CollectionMode, record performance.Record) error {
	doc := NewRecordDoc(record)
	doc.Mode = mode.String()
	return s.encode("record", doc)
}

// Close terminates the YAML stream.
func (s *YAMLSink) Close() error {
	return s.enc.Close()
}

func (s *YAMLSink) encode(kind string, doc any) error {
	if err := s.enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode %s: %w", kind, err)
	}
	return nil
}
