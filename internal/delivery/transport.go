// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"crypto/tls"
	"net/http"
	"net/url"
)

// HTTPDoer executes http requests. It is implemented by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// apiTokenTransport adds the API token and the product headers to every
// request.
type apiTokenTransport struct {
	token string
	rt    http.RoundTripper
}

// RoundTrip wraps the `RoundTrip` method setting the "Authorization" header
// and identifying the forwarder.
func (t apiTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Api-Token "+t.token)
	req.Header.Set("User-Agent", Name+"/"+Version)
	req.Header.Set("X-Forwarder-Name", Name)
	req.Header.Set("X-Forwarder-Version", Version)
	return t.rt.RoundTrip(req)
}

// NewTransport clones the given transport, sets TLS and proxy support and
// returns a wrapper over the cloned Transport that authenticates requests
// with token.
func NewTransport(
	rt http.RoundTripper,
	token string,
	tlsConfig *tls.Config,
	proxyURL *url.URL,
) http.RoundTripper {

	if rt == nil {
		rt = http.DefaultTransport
	}

	t, ok := rt.(*http.Transport)
	if !ok {
		return apiTokenTransport{
			token: token,
			rt:    rt,
		}
	}

	t = t.Clone()
	if proxyURL != nil {
		t.Proxy = http.ProxyURL(proxyURL)
	}
	if tlsConfig != nil {
		t.TLSClientConfig = tlsConfig
	}
	return apiTokenTransport{
		token: token,
		rt:    t,
	}
}
