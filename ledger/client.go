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

// Package ledger wraps the deployed program's read and write surface as a
// typed client. It carries no business policy beyond unit conversion: all
// amounts cross this boundary as fixed-point integers and leave it as
// units.Amount.
package ledger

import (
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fastjson"

	"github.com/vibefeed/vibefeed/conf"
	"github.com/vibefeed/vibefeed/log"
)

const (
	RouteUsers    = "/users"
	RoutePosts    = "/posts"
	RouteTrending = "/posts/trending"
	RouteAccounts = "/accounts"
	RouteOwner    = "/owner"
	RouteTxSend   = "/tx/send"
	RouteTx       = "/tx"

	ReqPost = "POST"
	ReqGet  = "GET"
)

const JSONPoolSize = 8 // sane size of 8 arenas and parsers in a pool

// Client speaks to one ledger node about one deployed program.
type Client struct {
	endpoint string
	contract string

	parsers fastjson.ParserPool
	arenas  fastjson.ArenaPool
}

// NewClient binds to the node endpoint and program address from conf when
// the arguments are empty.
func NewClient(endpoint, contract string) *Client {
	if endpoint == "" {
		endpoint = conf.GetLedgerAPI()
	}

	if contract == "" {
		contract = conf.GetContractAddress()
	}

	c := &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		contract: strings.ToLower(contract),
	}

	// Generate parsers and arenas.
	for i := 0; i < JSONPoolSize; i++ {
		var a fastjson.Arena
		c.arenas.Put(&a)

		var p fastjson.Parser
		c.parsers.Put(&p)
	}

	return c
}

// Request performs one HTTP round trip and returns the raw response body.
// Network-level failures come back as TransientError.
func (c *Client) Request(path string, method string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.URI().Update(c.endpoint + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	req.Header.Set("X-Contract", c.contract)

	if body != nil {
		req.SetBody(body)
	}

	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(res)

	if err := fasthttp.DoTimeout(req, res, conf.GetRequestTimeout()); err != nil {
		return nil, &TransientError{Inner: err}
	}

	if res.StatusCode() != http.StatusOK {
		if reqErr := ParseRequestError(res.Body()); reqErr != nil {
			reqErr.StatusCode = res.StatusCode()
			return nil, reqErr
		}

		return nil, errors.Errorf(
			"unexpected status code for query sent to %q: %d. response body: %q",
			c.endpoint+path, res.StatusCode(), res.Body(),
		)
	}

	out := make([]byte, len(res.Body()))
	copy(out, res.Body())

	return out, nil
}

// get runs a read with bounded retry on transient failures. Reads are
// side-effect-free, so retrying is always safe.
func (c *Client) get(path string) ([]byte, error) {
	backoff := conf.GetReadRetryBackoff()

	var lastErr error

	for attempt := 0; attempt <= conf.GetReadRetries(); attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}

		res, err := c.Request(path, ReqGet, nil)
		if err == nil {
			return res, nil
		}

		lastErr = err

		if !IsTransient(err) {
			break
		}

		log.Ledger("retry").Debug().
			Err(err).
			Int("attempt", attempt+1).
			Str("path", path).
			Msg("Read failed; retrying.")
	}

	return nil, lastErr
}

func (c *Client) parse(body []byte) (*fastjson.Value, func(), error) {
	parser := c.parsers.Get()

	v, err := parser.ParseBytes(body)
	if err != nil {
		c.parsers.Put(parser)
		return nil, nil, errors.Wrap(err, "failed to parse ledger response")
	}

	return v, func() { c.parsers.Put(parser) }, nil
}
