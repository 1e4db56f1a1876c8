// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package source

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newrelic/nri-forwarder/internal/pkg/record"
)

func collect(entries *[]Entry) HandleFunc {
	return func(_ context.Context, e Entry) error {
		*entries = append(*entries, e)
		return nil
	}
}

func TestNDJSONRead(t *testing.T) {
	t.Parallel()

	input := `{"channel":"bizevents","amount":3}
{"title":"no channel"}

not json
{"channel":"metrics","metric":"m","value":1.5}
null
`
	var entries []Entry
	src := NewNDJSON(io.NopCloser(strings.NewReader(input)))
	require.NoError(t, src.Read(context.Background(), collect(&entries)))
	require.NoError(t, src.Close())

	require.Len(t, entries, 3)
	assert.Equal(t, Entry{Channel: "bizevents", Record: record.Record{"amount": float64(3)}}, entries[0])
	assert.Equal(t, Entry{Channel: DefaultChannel, Record: record.Record{"title": "no channel"}}, entries[1])
	assert.Equal(t, "metrics", entries[2].Channel)
	assert.Equal(t, 1.5, entries[2].Record["value"])
}

func TestNDJSONHandleErrorStopsReading(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	calls := 0
	src := NewNDJSON(io.NopCloser(strings.NewReader("{\"a\":1}\n{\"a\":2}\n")))
	err := src.Read(context.Background(), func(context.Context, Entry) error {
		calls++
		return boom
	})
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls)
}

func TestExpositionRead(t *testing.T) {
	t.Parallel()

	input := `# HELP temperature Room temperature
# TYPE temperature gauge
temperature{room="a"} 21.5
# TYPE requests counter
requests 10
`
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	src := NewExposition(io.NopCloser(strings.NewReader(input)))
	src.now = func() time.Time { return now }

	var entries []Entry
	require.NoError(t, src.Read(context.Background(), collect(&entries)))

	require.Len(t, entries, 1)
	assert.Equal(t, MetricsChannel, entries[0].Channel)
	assert.Nil(t, entries[0].Record)
	assert.Equal(t, "#temperature gauge dt.meta.description=\"Room temperature\"\ntemperature,room=a gauge,21.5 1709287200000", entries[0].Lines)
}

func TestExpositionReadError(t *testing.T) {
	t.Parallel()

	src := NewExposition(io.NopCloser(strings.NewReader("not { valid")))
	err := src.Read(context.Background(), collect(&[]Entry{}))
	assert.Error(t, err)
}

func TestScrapeRead(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# TYPE temperature gauge\ntemperature 21\n"))
	}))
	defer srv.Close()

	src, err := Open(Config{Input: srv.URL, Format: FormatPrometheus, Client: srv.Client()}, nil)
	require.NoError(t, err)
	defer src.Close()
	require.IsType(t, &Exposition{}, src)

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	src.(*Exposition).now = func() time.Time { return now }

	var entries []Entry
	require.NoError(t, src.Read(context.Background(), collect(&entries)))
	require.Len(t, entries, 1)
	assert.Equal(t, "temperature gauge,21 1709287200000", entries[0].Lines)
}

func TestScrapeReadError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := NewScrape(srv.Client(), srv.URL)
	err := src.Read(context.Background(), collect(&[]Entry{}))
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "input.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(`{"channel":"davis","title":"t"}`+"\n"), 0o600))

	src, err := Open(Config{Input: path}, nil)
	require.NoError(t, err)
	defer src.Close()
	assert.IsType(t, &NDJSON{}, src)

	var entries []Entry
	require.NoError(t, src.Read(context.Background(), collect(&entries)))
	require.Len(t, entries, 1)
	assert.Equal(t, "davis", entries[0].Channel)

	stdin, err := Open(Config{Input: Stdin, Format: FormatPrometheus}, strings.NewReader(""))
	require.NoError(t, err)
	assert.IsType(t, &Exposition{}, stdin)
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()

	_, err := Open(Config{Input: filepath.Join(t.TempDir(), "missing")}, nil)
	assert.Error(t, err)

	_, err = Open(Config{Input: Stdin, Follow: true}, nil)
	assert.Error(t, err)

	_, err = Open(Config{Input: "x", Follow: true, Format: FormatPrometheus}, nil)
	assert.Error(t, err)

	_, err = Open(Config{Input: Stdin, Format: "xml"}, strings.NewReader(""))
	assert.Error(t, err)
}

func TestFollowerReadsAppendedLines(t *testing.T) {
	t.Parallel()

	// Given a followed file with one record
	path := filepath.Join(t.TempDir(), "follow.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(`{"n":1}`+"\n"), 0o600))

	ticks := 0
	f, err := NewFollower(path, 0, 10*time.Millisecond, func(context.Context) error {
		ticks++
		return nil
	})
	require.NoError(t, err)
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// When a second record is appended
	go func() {
		time.Sleep(50 * time.Millisecond)
		fh, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return
		}
		_, _ = fh.WriteString(`{"n":2}` + "\n")
		_ = fh.Close()
	}()

	// Then both records are read, and reading ends with the context
	var entries []Entry
	err = f.Read(ctx, func(_ context.Context, e Entry) error {
		entries = append(entries, e)
		if len(entries) == 2 {
			cancel()
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, float64(1), entries[0].Record["n"])
	assert.Equal(t, float64(2), entries[1].Record["n"])
	assert.Greater(t, ticks, 0)
}

func TestFollowerIdleTimeout(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "idle.ndjson")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	f, err := NewFollower(path, 50*time.Millisecond, 10*time.Millisecond, nil)
	require.NoError(t, err)
	defer f.Close()

	done := make(chan error, 1)
	go func() {
		done <- f.Read(context.Background(), collect(&[]Entry{}))
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("follower did not stop on idle timeout")
	}
}

func TestFollowerMissingFile(t *testing.T) {
	t.Parallel()

	_, err := NewFollower(filepath.Join(t.TempDir(), "missing"), 0, 0, nil)
	assert.Error(t, err)
}
