// Package prometheus scrapes metric families from Prometheus endpoints.
// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package prometheus

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"
	prom "github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// HTTPDoer executes http requests. It is implemented by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type countReadCloser struct {
	innerReadCloser io.ReadCloser
	count           int
}

func (rc *countReadCloser) Close() error {
	return rc.innerReadCloser.Close()
}

func (rc *countReadCloser) Read(p []byte) (n int, err error) {
	n, err = rc.innerReadCloser.Read(p)
	rc.count += n
	return
}

// Get scrapes the given URL and decodes the retrieved text exposition.
func Get(ctx context.Context, client HTTPDoer, url string) ([]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", string(expfmt.FmtText))
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "scraping %s", url)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("scraping %s: unexpected status %d", url, resp.StatusCode)
	}

	countedBody := &countReadCloser{innerReadCloser: resp.Body}
	d := expfmt.NewDecoder(countedBody, expfmt.FmtText)
	var mfs []*dto.MetricFamily
	for {
		mf := &dto.MetricFamily{}
		if err := d.Decode(mf); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrapf(err, "decoding %s", url)
		}
		mfs = append(mfs, mf)
	}

	bodySize := float64(countedBody.count)
	targetSize.With(prom.Labels{"target": url}).Set(bodySize)
	totalScrapedPayload.Add(bodySize)
	return mfs, nil
}
