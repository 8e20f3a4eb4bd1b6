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

// Package api serves the snapshot over HTTP and pushes change events over
// a websocket. It is a read-only surface: writes go through the wallet,
// never through here.
package api

import (
	"net"
	"strconv"

	"github.com/buaazp/fasthttprouter"
	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fastjson"

	"github.com/vibefeed/vibefeed"
	"github.com/vibefeed/vibefeed/conf"
	"github.com/vibefeed/vibefeed/events"
	"github.com/vibefeed/vibefeed/log"
	"github.com/vibefeed/vibefeed/provider"
)

// Gateway exposes one coordinator's snapshot.
type Gateway struct {
	coordinator *vibefeed.Coordinator

	router *fasthttprouter.Router
	server *fasthttp.Server

	sink *sink

	arenas fastjson.ArenaPool
}

func New(c *vibefeed.Coordinator, hub *events.Hub) *Gateway {
	g := &Gateway{
		coordinator: c,
		sink:        newSink(hub),
	}

	r := fasthttprouter.New()

	r.GET("/session", g.auth(g.getSession))
	r.GET("/user", g.auth(g.getUser))
	r.GET("/token", g.auth(g.getToken))
	r.GET("/feed", g.auth(g.getFeed))
	r.GET("/feed/trending", g.auth(g.getTrending))
	r.GET("/posts/:id", g.auth(g.getPost))
	r.GET("/metrics", g.auth(g.getMetrics))

	r.GET("/poll", g.auth(g.sink.serve))

	g.router = r

	return g
}

// StartHTTP serves until Shutdown. Blocking.
func (g *Gateway) StartHTTP(port int) error {
	go g.sink.run()

	g.server = &fasthttp.Server{
		Handler: g.router.Handler,
	}

	log.API().Info().Int("port", port).Msg("Started the API server.")

	return g.server.ListenAndServe(":" + strconv.Itoa(port))
}

// StartListener is StartHTTP on an existing listener.
func (g *Gateway) StartListener(ln net.Listener) error {
	go g.sink.run()

	g.server = &fasthttp.Server{
		Handler: g.router.Handler,
	}

	return g.server.Serve(ln)
}

func (g *Gateway) Shutdown() error {
	g.sink.stop()

	if g.server == nil {
		return nil
	}

	return g.server.Shutdown()
}

// auth gates a handler behind the shared secret from conf, when one is
// set. The secret rides in the Authorization header as a bearer token.
func (g *Gateway) auth(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		secret := conf.GetSecret()

		if secret != "" && string(ctx.Request.Header.Peek("Authorization")) != "Bearer "+secret {
			ctx.Error("bad or missing credentials", fasthttp.StatusUnauthorized)
			return
		}

		next(ctx)
	}
}

func (g *Gateway) getSession(ctx *fasthttp.RequestCtx) {
	user := g.coordinator.Snapshot().User()

	g.render(ctx, func(arena *fastjson.Arena) *fastjson.Value {
		o := arena.NewObject()
		o.Set("state", arena.NewString(g.coordinator.State().String()))
		o.Set("address", arena.NewString(user.Address))
		o.Set("wallet", arena.NewString(g.coordinator.Wallet().Status().String()))

		return o
	})
}

func (g *Gateway) getUser(ctx *fasthttp.RequestCtx) {
	user := g.coordinator.Snapshot().User()

	// Internally addresses stay lowercase; renderers get the mixed-case
	// checksum form.
	display := user.Address
	if sum, err := provider.ChecksumAddress(user.Address); err == nil {
		display = sum
	}

	g.render(ctx, func(arena *fastjson.Arena) *fastjson.Value {
		o := arena.NewObject()
		o.Set("address", arena.NewString(user.Address))
		o.Set("display_address", arena.NewString(display))
		o.Set("handle", arena.NewString(user.Handle))

		if user.IsRegistered {
			o.Set("is_registered", arena.NewTrue())
		} else {
			o.Set("is_registered", arena.NewFalse())
		}

		ids := arena.NewArray()
		for i, id := range user.PostIDs {
			ids.SetArrayItem(i, arena.NewNumberInt(int(id)))
		}
		o.Set("post_ids", ids)

		return o
	})
}

func (g *Gateway) getToken(ctx *fasthttp.RequestCtx) {
	token := g.coordinator.Snapshot().Token()

	g.render(ctx, func(arena *fastjson.Arena) *fastjson.Value {
		o := arena.NewObject()
		o.Set("balance", arena.NewString(token.Balance.String()))
		o.Set("staked_amount", arena.NewString(token.Staked.String()))
		o.Set("unlock_time", arena.NewNumberInt(int(token.UnlockTime)))
		o.Set("pending_rewards", arena.NewString(token.PendingRewards.String()))
		o.Set("voting_power", arena.NewNumberInt(int(token.VotingPower)))

		if token.IsStakedEnough {
			o.Set("is_staked_enough", arena.NewTrue())
		} else {
			o.Set("is_staked_enough", arena.NewFalse())
		}

		return o
	})
}

func (g *Gateway) getFeed(ctx *fasthttp.RequestCtx) {
	posts := g.coordinator.Snapshot().Feed()

	g.render(ctx, func(arena *fastjson.Arena) *fastjson.Value {
		return postsValue(arena, posts)
	})
}

func (g *Gateway) getTrending(ctx *fasthttp.RequestCtx) {
	posts := g.coordinator.Snapshot().Trending()

	g.render(ctx, func(arena *fastjson.Arena) *fastjson.Value {
		return postsValue(arena, posts)
	})
}

func (g *Gateway) getPost(ctx *fasthttp.RequestCtx) {
	id, err := strconv.ParseUint(ctx.UserValue("id").(string), 10, 64)
	if err != nil {
		ctx.Error("bad post id", fasthttp.StatusBadRequest)
		return
	}

	view, ok := g.coordinator.Snapshot().Post(id)
	if !ok {
		ctx.Error("no such post", fasthttp.StatusNotFound)
		return
	}

	g.render(ctx, func(arena *fastjson.Arena) *fastjson.Value {
		return postValue(arena, view)
	})
}

func (g *Gateway) getMetrics(ctx *fasthttp.RequestCtx) {
	stats := g.coordinator.Metrics().Stats()

	g.render(ctx, func(arena *fastjson.Arena) *fastjson.Value {
		o := arena.NewObject()
		o.Set("tx_submitted", arena.NewNumberInt(int(stats.TxSubmitted)))
		o.Set("tx_confirmed", arena.NewNumberInt(int(stats.TxConfirmed)))
		o.Set("tx_failed", arena.NewNumberInt(int(stats.TxFailed)))
		o.Set("tx_rolled_back", arena.NewNumberInt(int(stats.TxRolledBack)))
		o.Set("load_latency_mean_ms", arena.NewNumberFloat64(stats.LoadLatencyMeanMS))

		return o
	})
}

func (g *Gateway) render(ctx *fasthttp.RequestCtx, fn func(arena *fastjson.Arena) *fastjson.Value) {
	arena := g.arenas.Get()
	defer func() {
		arena.Reset()
		g.arenas.Put(arena)
	}()

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.B = fn(arena).MarshalTo(buf.B[:0])

	ctx.Response.Header.SetContentType("application/json")
	_, _ = ctx.Write(buf.B)
}

func postValue(arena *fastjson.Arena, view vibefeed.PostView) *fastjson.Value {
	o := arena.NewObject()
	o.Set("id", arena.NewNumberInt(int(view.ID)))
	o.Set("creator", arena.NewString(view.Creator))
	o.Set("handle", arena.NewString(view.Handle))
	o.Set("cid", arena.NewString(view.ContentID))
	o.Set("points", arena.NewString(view.Points.String()))
	o.Set("created_at", arena.NewNumberInt(int(view.CreatedAt)))

	if view.Liked {
		o.Set("liked", arena.NewTrue())
	} else {
		o.Set("liked", arena.NewFalse())
	}

	return o
}

func postsValue(arena *fastjson.Arena, posts []vibefeed.PostView) *fastjson.Value {
	list := arena.NewArray()

	for i, view := range posts {
		list.SetArrayItem(i, postValue(arena, view))
	}

	o := arena.NewObject()
	o.Set("posts", list)

	return o
}
