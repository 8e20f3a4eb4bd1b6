package provider

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/fasthttp/websocket"
	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fastjson"

	"github.com/vibefeed/vibefeed/conf"
	"github.com/vibefeed/vibefeed/log"
)

const (
	RouteAccountsRequest = "/accounts/request"
	RouteChain           = "/chain"
	RouteChainSwitch     = "/chain/switch"
	RouteChainAdd        = "/chain/add"
	RouteEvents          = "/events"
)

// Bridge talks to a wallet agent over its local HTTP API. It is the
// production Provider; tests use Mock instead.
type Bridge struct {
	endpoint string

	parsers fastjson.ParserPool
	arenas  fastjson.ArenaPool
}

var _ Provider = (*Bridge)(nil)

// NewBridge points at the wallet agent endpoint, e.g. "http://127.0.0.1:9981".
// The endpoint comes from conf when empty.
func NewBridge(endpoint string) *Bridge {
	if endpoint == "" {
		endpoint = conf.GetProviderAPI()
	}

	return &Bridge{endpoint: strings.TrimSuffix(endpoint, "/")}
}

func (b *Bridge) RequestAccounts() ([]string, error) {
	res, err := b.request(RouteAccountsRequest, "POST", nil)
	if err != nil {
		return nil, err
	}

	parser := b.parsers.Get()
	defer b.parsers.Put(parser)

	v, err := parser.ParseBytes(res)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse accounts response")
	}

	var accounts []string
	for _, a := range v.GetArray("accounts") {
		addr, err := NormalizeAddress(string(a.GetStringBytes()))
		if err != nil {
			return nil, err
		}

		accounts = append(accounts, addr)
	}

	return accounts, nil
}

func (b *Bridge) ChainID() (uint64, error) {
	res, err := b.request(RouteChain, "GET", nil)
	if err != nil {
		return 0, err
	}

	parser := b.parsers.Get()
	defer b.parsers.Put(parser)

	v, err := parser.ParseBytes(res)
	if err != nil {
		return 0, errors.Wrap(err, "failed to parse chain response")
	}

	return v.GetUint64("chain_id"), nil
}

func (b *Bridge) SwitchChain(chainID uint64) error {
	arena := b.arenas.Get()
	defer b.arenas.Put(arena)

	body := arena.NewObject()
	body.Set("chain_id", arena.NewNumberString(fmt.Sprintf("%d", chainID)))

	_, err := b.request(RouteChainSwitch, "POST", body.MarshalTo(nil))
	return err
}

func (b *Bridge) AddChain(chainID uint64, name string, rpcURL string) error {
	arena := b.arenas.Get()
	defer b.arenas.Put(arena)

	body := arena.NewObject()
	body.Set("chain_id", arena.NewNumberString(fmt.Sprintf("%d", chainID)))
	body.Set("name", arena.NewString(name))
	body.Set("rpc_url", arena.NewString(rpcURL))

	_, err := b.request(RouteChainAdd, "POST", body.MarshalTo(nil))
	return err
}

// Subscribe opens the agent's event websocket and fans messages out to the
// callbacks. The read loop stops when the returned function closes the
// socket.
func (b *Bridge) Subscribe(ev Events) (func(), error) {
	uri, err := b.wsURL(RouteEvents)
	if err != nil {
		return nil, err
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: conf.GetRequestTimeout(),
	}

	ws, _, err := dialer.Dial(uri, nil)
	if err != nil {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}

	go func() {
		var parser fastjson.Parser

		for {
			_, message, err := ws.ReadMessage()
			if err != nil {
				return
			}

			v, err := parser.ParseBytes(message)
			if err != nil {
				log.Wallet("events").Warn().Err(err).Msg("Dropped an unparseable provider event.")
				continue
			}

			switch string(v.GetStringBytes("event")) {
			case "accounts_changed":
				if ev.OnAccountsChanged == nil {
					continue
				}

				var accounts []string
				for _, a := range v.GetArray("accounts") {
					addr, err := NormalizeAddress(string(a.GetStringBytes()))
					if err != nil {
						continue
					}
					accounts = append(accounts, addr)
				}

				ev.OnAccountsChanged(accounts)
			case "chain_changed":
				if ev.OnChainChanged != nil {
					ev.OnChainChanged(v.GetUint64("chain_id"))
				}
			}
		}
	}()

	return func() {
		// Also kills the read loop above.
		_ = ws.Close()
	}, nil
}

func (b *Bridge) request(path string, method string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.URI().Update(b.endpoint + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")

	if body != nil {
		req.SetBody(body)
	}

	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(res)

	if err := fasthttp.DoTimeout(req, res, conf.GetRequestTimeout()); err != nil {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}

	switch res.StatusCode() {
	case http.StatusOK:
		out := make([]byte, len(res.Body()))
		copy(out, res.Body())

		return out, nil
	case http.StatusForbidden:
		if reason := parseErrorReason(res.Body()); reason != "" {
			return nil, errors.Wrap(ErrRejected, reason)
		}

		return nil, ErrRejected
	default:
		return nil, errors.Errorf(
			"unexpected status code for query sent to %q: %d. response body: %q",
			b.endpoint+path, res.StatusCode(), res.Body(),
		)
	}
}

func (b *Bridge) wsURL(path string) (string, error) {
	u, err := url.Parse(b.endpoint)
	if err != nil {
		return "", errors.Wrap(err, "bad provider endpoint")
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	u.Path = path

	return u.String(), nil
}

func parseErrorReason(body []byte) string {
	var parser fastjson.Parser

	v, err := parser.ParseBytes(body)
	if err != nil {
		return ""
	}

	return string(v.GetStringBytes("error"))
}
