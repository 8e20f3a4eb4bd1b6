// Copyright (c) 2024 VibeFeed
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

// Package gateway talks to the content storage gateway. Posts on the
// ledger carry only a content id; the bytes behind it are uploaded to and
// fetched from the gateway, with fetched content cached locally.
package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fastjson"

	"github.com/vibefeed/vibefeed/conf"
	"github.com/vibefeed/vibefeed/log"
)

const (
	RouteUpload  = "/upload"
	RouteContent = "/content"
)

// ErrUploadFailed wraps any failure to push content to the gateway. The
// caller must not submit a ledger transaction referencing the content.
var ErrUploadFailed = errors.New("upload failed")

// IsUploadFailed reports whether err is an upload failure.
func IsUploadFailed(err error) bool {
	return errors.Cause(err) == ErrUploadFailed
}

// Client uploads to and fetches from one content gateway.
type Client struct {
	endpoint string
	cache    *Cache

	parsers fastjson.ParserPool
}

// NewClient binds to the gateway endpoint from conf when the argument is
// empty. The cache may be nil, in which case every fetch hits the wire.
func NewClient(endpoint string, cache *Cache) *Client {
	if endpoint == "" {
		endpoint = conf.GetGatewayAPI()
	}

	return &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		cache:    cache,
	}
}

// Upload pushes raw content and returns the gateway-assigned content id.
// Uploads are not retried: the caller decides whether to try again, and
// nothing is recorded on the ledger until they do.
func (c *Client) Upload(content []byte) (string, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.URI().Update(c.endpoint + RouteUpload)
	req.Header.SetMethod("POST")
	req.Header.SetContentType("application/octet-stream")
	req.SetBody(content)

	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(res)

	if err := fasthttp.DoTimeout(req, res, conf.GetRequestTimeout()); err != nil {
		return "", errors.Wrap(ErrUploadFailed, err.Error())
	}

	if res.StatusCode() != http.StatusOK {
		return "", errors.Wrapf(ErrUploadFailed, "gateway answered %d: %q", res.StatusCode(), res.Body())
	}

	parser := c.parsers.Get()
	defer c.parsers.Put(parser)

	v, err := parser.ParseBytes(res.Body())
	if err != nil {
		return "", errors.Wrap(ErrUploadFailed, err.Error())
	}

	cid := string(v.GetStringBytes("cid"))
	if cid == "" {
		return "", errors.Wrap(ErrUploadFailed, "gateway returned no content id")
	}

	if c.cache != nil {
		c.cache.Save(cid, content)
	}

	log.Gateway("upload").Debug().
		Str("cid", cid).
		Int("size", len(content)).
		Msg("Content uploaded.")

	return cid, nil
}

// UploadJSON marshals a document and uploads it.
func (c *Client) UploadJSON(doc interface{}) (string, error) {
	content, err := json.Marshal(doc)
	if err != nil {
		return "", errors.Wrap(ErrUploadFailed, err.Error())
	}

	return c.Upload(content)
}

// Fetch returns the content behind a content id, from the local cache
// when possible.
func (c *Client) Fetch(cid string) ([]byte, error) {
	if c.cache != nil {
		if content, ok := c.cache.Load(cid); ok {
			return content, nil
		}
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.URI().Update(c.ContentURL(cid))
	req.Header.SetMethod("GET")

	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(res)

	if err := fasthttp.DoTimeout(req, res, conf.GetRequestTimeout()); err != nil {
		return nil, errors.Wrapf(err, "failed to fetch content %s", cid)
	}

	if res.StatusCode() != http.StatusOK {
		return nil, errors.Errorf("gateway answered %d for content %s", res.StatusCode(), cid)
	}

	content := make([]byte, len(res.Body()))
	copy(content, res.Body())

	if c.cache != nil {
		c.cache.Save(cid, content)
	}

	return content, nil
}

// ContentURL returns the public URL serving a content id.
func (c *Client) ContentURL(cid string) string {
	return c.endpoint + RouteContent + "/" + cid
}
