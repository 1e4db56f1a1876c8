// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package source

import (
	"bufio"
	"context"
	"io"

	"github.com/pkg/errors"
)

// maxLineSize bounds a single NDJSON line.
const maxLineSize = 16 * 1024 * 1024

// NDJSON reads one record per line until the end of its input.
type NDJSON struct {
	rc io.ReadCloser
}

// NewNDJSON returns a source reading records from rc.
func NewNDJSON(rc io.ReadCloser) *NDJSON {
	return &NDJSON{rc: rc}
}

// Read calls handle for every record of the input. It stops when the input
// ends, ctx is done or handle fails.
func (n *NDJSON) Read(ctx context.Context, handle HandleFunc) error {
	scanner := bufio.NewScanner(n.rc)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := handleLine(ctx, scanner.Bytes(), handle); err != nil {
			return err
		}
	}
	return errors.Wrap(scanner.Err(), "reading input")
}

// Close closes the input.
func (n *NDJSON) Close() error {
	return n.rc.Close()
}
