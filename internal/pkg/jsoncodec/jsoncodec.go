// Package jsoncodec encodes wire payloads. Map keys are sorted so the
// encoded size of a record is stable between calls.
// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

func Marshal(v interface{}) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v interface{}) error {
	return defaultConfig.Unmarshal(data, v)
}

func Decode(r io.Reader, v interface{}) error {
	return defaultConfig.NewDecoder(r).Decode(v)
}

// JoinArray frames already encoded JSON values as a JSON array.
func JoinArray(items [][]byte) []byte {
	size := 2
	for _, it := range items {
		size += len(it) + 1
	}
	buf := make([]byte, 0, size)
	buf = append(buf, '[')
	for i, it := range items {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, it...)
	}
	return append(buf, ']')
}
