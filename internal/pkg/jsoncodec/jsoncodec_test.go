// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package jsoncodec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeys(t *testing.T) {
	data, err := Marshal(map[string]interface{}{"b": 1, "a": "x"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":1}`, string(data))
}

func TestDecode(t *testing.T) {
	var out map[string]interface{}
	require.NoError(t, Decode(bytes.NewBufferString(`{"value": 1.5}`), &out))
	assert.Equal(t, 1.5, out["value"])
}

func TestJoinArray(t *testing.T) {
	assert.Equal(t, "[]", string(JoinArray(nil)))
	assert.Equal(t, `[{"a":1}]`, string(JoinArray([][]byte{[]byte(`{"a":1}`)})))
	assert.Equal(t, `[1,2,3]`, string(JoinArray([][]byte{[]byte("1"), []byte("2"), []byte("3")})))
}
