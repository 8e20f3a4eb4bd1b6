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
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/benpye/readline"
	"github.com/rs/zerolog"
	"github.com/urfave/cli"

	"github.com/vibefeed/vibefeed"
	"github.com/vibefeed/vibefeed/events"
	"github.com/vibefeed/vibefeed/log"
)

const (
	vtRed   = "\033[31m"
	vtReset = "\033[39m"
	prompt  = "»»»"
)

type CLI struct {
	app *cli.App
	rl  *readline.Instance

	coordinator *vibefeed.Coordinator
	logger      *zerolog.Logger
}

func NewCLI(coordinator *vibefeed.Coordinator, hub *events.Hub) (*CLI, error) {
	c := &CLI{
		coordinator: coordinator,
		logger:      log.Sync("cli"),
		app:         cli.NewApp(),
	}

	c.app.Name = "vibefeed"
	c.app.HideVersion = true
	c.app.UsageText = "command [arguments...]"
	c.app.CommandNotFound = func(ctx *cli.Context, s string) {
		c.logger.Error().Msg("Unknown command: " + s)
	}

	c.app.Commands = []cli.Command{
		{
			Name:        "connect",
			Aliases:     []string{"c"},
			Action:      a(c.connect),
			Description: "connect the wallet and load the snapshot",
		},
		{
			Name:        "disconnect",
			Aliases:     []string{"dc"},
			Action:      a(c.disconnect),
			Description: "end the session",
		},
		{
			Name:        "whoami",
			Aliases:     []string{"w"},
			Action:      a(c.whoami),
			Description: "print the session, handle and token state",
		},
		{
			Name:        "register",
			Aliases:     []string{"r"},
			Action:      a(c.register),
			Description: "claim a handle",
		},
		{
			Name:        "handle",
			Aliases:     []string{"h"},
			Action:      a(c.changeHandle),
			Description: "change the registered handle",
		},
		{
			Name:        "post",
			Aliases:     []string{"p"},
			Action:      a(c.post),
			Description: "publish a text post",
		},
		{
			Name:        "like",
			Aliases:     []string{"lk"},
			Action:      a(c.like),
			Description: "like a post by id",
		},
		{
			Name:        "feed",
			Aliases:     []string{"f"},
			Action:      a(c.feed),
			Description: "print the feed, newest first",
		},
		{
			Name:        "trending",
			Aliases:     []string{"t"},
			Action:      a(c.trending),
			Description: "print this week's trending posts",
		},
		{
			Name:        "show",
			Aliases:     []string{"s"},
			Action:      a(c.show),
			Description: "print one post with its content",
		},
		{
			Name:        "stake",
			Aliases:     []string{"ps"},
			Action:      a(c.stake),
			Description: "lock tokens for voting power",
		},
		{
			Name:        "unstake",
			Aliases:     []string{"ws"},
			Action:      a(c.unstake),
			Description: "withdraw stake (no amount withdraws everything)",
		},
		{
			Name:        "claim",
			Aliases:     []string{"cr"},
			Action:      a(c.claim),
			Description: "claim pending rewards",
		},
		{
			Name:        "distribute",
			Action:      a(c.distribute),
			Description: "trigger the weekly reward payout (owner only)",
		},
		{
			Name:        "refresh",
			Aliases:     []string{"rf"},
			Action:      a(c.refresh),
			Description: "reload the snapshot from the ledger",
		},
		{
			Name:    "exit",
			Aliases: []string{"quit", ":q"},
			Action:  a(c.exit),
		},
	}

	s := strings.Builder{}
	s.WriteString("Commands:\n")
	w := tabwriter.NewWriter(&s, 0, 0, 1, ' ', 0)

	for _, cmd := range c.app.VisibleCommands() {
		if _, err := fmt.Fprintf(w,
			"    %s (%s) %s\t%s\n",
			cmd.Name, strings.Join(cmd.Aliases, ", "), cmd.Usage,
			cmd.Description,
		); err != nil {
			return nil, err
		}
	}

	if err := w.Flush(); err != nil {
		return nil, err
	}

	c.app.CustomAppHelpTemplate = s.String()

	completers := make([]readline.PrefixCompleterInterface, 0, len(c.app.Commands)*2)

	for _, cmd := range c.app.Commands {
		commandAddCompleter(&completers, cmd, c.postIDCompleter())
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            vtRed + prompt + vtReset + " ",
		AutoComplete:      readline.NewPrefixCompleter(completers...),
		HistoryFile:       "/tmp/vibefeed-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return nil, err
	}

	c.rl = rl

	log.SetWriter(
		"shell",
		log.NewConsoleWriter(rl.Stdout(), log.FilterFor(
			log.ModuleWallet,
			log.ModuleSync,
			log.ModuleLedger,
			log.ModuleGateway,
		)),
	)

	// Surface transaction failures even when no command is waiting.
	hub.Subscribe(func(ev events.TxFailed) bool {
		c.logger.Warn().Str("op", ev.Op).Str("reason", ev.Reason).Msg("A transaction failed.")
		return true
	})

	return c, nil
}

func (c *CLI) Start() {
ReadLoop:
	for {
		line, err := c.rl.Readline()
		switch err {
		case readline.ErrInterrupt:
			if len(line) == 0 {
				break ReadLoop
			}

			continue ReadLoop

		case io.EOF:
			break ReadLoop
		}

		r := csv.NewReader(strings.NewReader(line))
		r.Comma = ' '

		s, err := r.Read()
		if err != nil {
			s = strings.Fields(line)
		}

		s = append([]string{c.app.Name}, s...)

		if err := c.app.Run(s); err != nil {
			c.logger.Error().Err(err).Msg("Failed to run command.")
		}
	}

	_ = c.rl.Close()
}

func (c *CLI) exit(ctx *cli.Context) {
	_ = c.rl.Close()
}

// postIDCompleter completes post-id arguments from the loaded feed.
func (c *CLI) postIDCompleter() *readline.PrefixCompleter {
	return readline.PcItemDynamic(func(line string) []string {
		f := strings.Split(line, " ")
		if len(f) < 2 {
			return nil
		}

		feed := c.coordinator.Snapshot().Feed()

		ids := make([]string, 0, len(feed))
		for _, view := range feed {
			ids = append(ids, fmt.Sprintf("%d", view.ID))
		}

		return ids
	})
}

func commandAddCompleter(completers *[]readline.PrefixCompleterInterface,
	cmd cli.Command, completer readline.PrefixCompleterInterface) {

	*completers = append(*completers, readline.PcItem(cmd.Name, completer))

	for _, alias := range cmd.Aliases {
		*completers = append(*completers, readline.PcItem(alias, completer))
	}
}

func a(f func(*cli.Context)) func(*cli.Context) error {
	return func(ctx *cli.Context) error {
		f(ctx)
		return nil
	}
}
