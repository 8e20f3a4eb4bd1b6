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

package main

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/urfave/cli"

	"github.com/vibefeed/vibefeed"
	"github.com/vibefeed/vibefeed/api"
	"github.com/vibefeed/vibefeed/conf"
	"github.com/vibefeed/vibefeed/events"
	"github.com/vibefeed/vibefeed/gateway"
	"github.com/vibefeed/vibefeed/kv"
	"github.com/vibefeed/vibefeed/ledger"
	"github.com/vibefeed/vibefeed/log"
	"github.com/vibefeed/vibefeed/provider"
	"github.com/vibefeed/vibefeed/sys"
)

func main() {
	app := cli.NewApp()

	app.Name = "vibefeed"
	app.Author = "VibeFeed"
	app.Version = sys.Version
	app.Usage = "a wallet-connected client for the vibefeed program"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "ledger.api",
			Value:  conf.GetLedgerAPI(),
			Usage:  "address of the ledger node API",
			EnvVar: "VIBEFEED_LEDGER_API",
		},
		cli.StringFlag{
			Name:   "provider.api",
			Value:  conf.GetProviderAPI(),
			Usage:  "address of the wallet provider bridge",
			EnvVar: "VIBEFEED_PROVIDER_API",
		},
		cli.StringFlag{
			Name:   "gateway.api",
			Value:  conf.GetGatewayAPI(),
			Usage:  "address of the content gateway",
			EnvVar: "VIBEFEED_GATEWAY_API",
		},
		cli.StringFlag{
			Name:   "contract",
			Usage:  "address of the deployed feed program",
			EnvVar: "VIBEFEED_CONTRACT",
		},
		cli.Uint64Flag{
			Name:  "chain.id",
			Value: conf.GetChainID(),
			Usage: "chain id the program is deployed on",
		},
		cli.StringFlag{
			Name:  "chain.name",
			Value: conf.GetChainName(),
			Usage: "human name of the expected chain",
		},
		cli.IntFlag{
			Name:  "api.port",
			Usage: "port to serve the local snapshot API on (0 disables it)",
		},
		cli.StringFlag{
			Name:   "api.secret",
			Usage:  "shared secret guarding the snapshot API",
			EnvVar: "VIBEFEED_API_SECRET",
		},
		cli.StringFlag{
			Name:  "cache.dir",
			Usage: "directory for the on-disk content cache (empty keeps content in memory only)",
		},
		cli.DurationFlag{
			Name:  "confirm.timeout",
			Value: conf.GetConfirmTimeout(),
			Usage: "how long to wait for a transaction to land",
		},
		cli.StringFlag{
			Name:  "loglevel",
			Value: "info",
			Usage: "minimum log level (debug, info, warn, error)",
		},
	}

	sort.Sort(cli.FlagsByName(app.Flags))
	sort.Sort(cli.CommandsByName(app.Commands))

	app.Action = func(c *cli.Context) error {
		return run(c)
	}

	if err := app.Run(os.Args); err != nil {
		log.Wallet("startup").Fatal().Err(err).Msg("Failed to start.")
	}
}

func run(c *cli.Context) error {
	conf.Update(
		conf.WithLedgerAPI(c.String("ledger.api")),
		conf.WithProviderAPI(c.String("provider.api")),
		conf.WithGatewayAPI(c.String("gateway.api")),
		conf.WithContractAddress(c.String("contract")),
		conf.WithChainID(c.Uint64("chain.id")),
		conf.WithChainName(c.String("chain.name")),
		conf.WithSecret(c.String("api.secret")),
		conf.WithCacheDir(c.String("cache.dir")),
		conf.WithConfirmTimeout(c.Duration("confirm.timeout")),
	)

	log.SetLevel(c.String("loglevel"))

	var cache *gateway.Cache

	if dir := conf.GetCacheDir(); dir != "" {
		store, err := kv.NewLevelDB(dir)
		if err != nil {
			return err
		}

		defer func() {
			_ = store.Close()
		}()

		cache = gateway.NewCache(store)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := vibefeed.NewMetrics(ctx)
	defer metrics.Stop()

	hub := events.NewHub()

	coordinator := vibefeed.NewCoordinator(
		provider.NewBridge(conf.GetProviderAPI()),
		ledger.NewClient(conf.GetLedgerAPI(), conf.GetContractAddress()),
		gateway.NewClient(conf.GetGatewayAPI(), cache),
		hub,
		metrics,
	)

	if port := c.Int("api.port"); port > 0 {
		server := api.New(coordinator, hub)

		go func() {
			if err := server.StartHTTP(port); err != nil {
				log.API().Error().Err(err).Msg("The API server stopped.")
			}
		}()

		defer func() {
			_ = server.Shutdown()
		}()
	}

	shell, err := NewCLI(coordinator, hub)
	if err != nil {
		return err
	}

	shell.Start()

	// Give pending writers a beat before the writers are torn down.
	time.Sleep(100 * time.Millisecond)

	return nil
}
