// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

package wire

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Encode serializes an envelope to a newline-terminated JSON line.
func Encode(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses a single JSON line into an envelope. Lines carrying an
// unknown "t" value or missing their kind's required fields are
// rejected.
func Decode(line []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(line, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// Scanner reads consecutive envelopes from a JSONL stream, skipping
// blank lines.
type Scanner struct {
	sc  *bufio.Scanner
	err error
}

// Oversized trace events can push lines well past bufio's default.
const maxLineBytes = 16 * 1024 * 1024

// NewScanner wraps a reader in an envelope scanner.
func NewScanner(r io.Reader) *Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &Scanner{sc: sc}
}

// Next returns the next envelope in the stream. It returns io.EOF when
// the underlying stream ends cleanly.
func (s *Scanner) Next() (Envelope, error) {
	if s.err != nil {
		return Envelope{}, s.err
	}
	for s.sc.Scan() {
		line := strings.TrimSpace(s.sc.Text())
		if line == "" {
			continue
		}
		return Decode([]byte(line))
	}
	if err := s.sc.Err(); err != nil {
		s.err = err
		return Envelope{}, err
	}
	s.err = io.EOF
	return Envelope{}, io.EOF
}

// Writer serializes envelopes to a JSONL stream. It is not safe for
// concurrent use; callers serialize writes.
type Writer struct {
	w io.Writer
}

// NewWriter wraps a writer in an envelope writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write encodes the envelope and appends it as one line.
func (w *Writer) Write(e Envelope) error {
	data, err := Encode(e)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(data); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}
