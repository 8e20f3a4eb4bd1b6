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
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli"

	"github.com/vibefeed/vibefeed"
	"github.com/vibefeed/vibefeed/units"
)

func (c *CLI) connect(ctx *cli.Context) {
	addr, err := c.coordinator.Connect()
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to connect.")
		return
	}

	user := c.coordinator.Snapshot().User()

	entry := c.logger.Info().Str("address", addr)
	if user.IsRegistered {
		entry = entry.Str("handle", user.Handle)
	}

	entry.Msg("Connected.")

	if !user.IsRegistered {
		c.logger.Info().Msg("No handle registered yet; use: register <handle>")
	}
}

func (c *CLI) disconnect(ctx *cli.Context) {
	c.coordinator.Disconnect()
	c.logger.Info().Msg("Disconnected.")
}

func (c *CLI) whoami(ctx *cli.Context) {
	snap := c.coordinator.Snapshot()

	user := snap.User()
	token := snap.Token()

	c.logger.Info().
		Str("state", c.coordinator.State().String()).
		Str("wallet", c.coordinator.Wallet().Status().String()).
		Str("address", user.Address).
		Str("handle", user.Handle).
		Bool("registered", user.IsRegistered).
		Str("balance", token.Balance.String()).
		Str("staked", token.Staked.String()).
		Str("pending_rewards", token.PendingRewards.String()).
		Uint64("voting_power", token.VotingPower).
		Bool("can_vote", token.IsStakedEnough).
		Dur("unlock_in", token.UnlockRemaining(time.Now())).
		Msg("Here is the current session.")
}

func (c *CLI) register(ctx *cli.Context) {
	cmd := ctx.Args()

	if len(cmd) != 1 {
		c.logger.Error().Msg("Invalid usage: register <handle>")
		return
	}

	if err := c.coordinator.Register(cmd[0]); err != nil {
		c.logger.Error().Err(err).Msg("Failed to register.")
		return
	}

	c.logger.Info().Str("handle", c.coordinator.Snapshot().User().Handle).Msg("Handle registered.")
}

func (c *CLI) changeHandle(ctx *cli.Context) {
	cmd := ctx.Args()

	if len(cmd) != 1 {
		c.logger.Error().Msg("Invalid usage: handle <new-handle>")
		return
	}

	if err := c.coordinator.ChangeHandle(cmd[0]); err != nil {
		c.logger.Error().Err(err).Msg("Failed to change the handle.")
		return
	}

	c.logger.Info().Str("handle", c.coordinator.Snapshot().User().Handle).Msg("Handle changed.")
}

func (c *CLI) post(ctx *cli.Context) {
	cmd := ctx.Args()

	if len(cmd) == 0 {
		c.logger.Error().Msg("Invalid usage: post <text...>")
		return
	}

	id, err := c.coordinator.PublishJSON(map[string]string{
		"text": strings.Join(cmd, " "),
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to publish.")
		return
	}

	c.logger.Info().Uint64("id", id).Msg("Post published.")
}

func (c *CLI) like(ctx *cli.Context) {
	id, ok := c.postID(ctx.Args())
	if !ok {
		c.logger.Error().Msg("Invalid usage: like <post-id>")
		return
	}

	if err := c.coordinator.Like(id); err != nil {
		c.logger.Error().Err(err).Uint64("id", id).Msg("Failed to like the post.")
		return
	}

	view, _ := c.coordinator.Snapshot().Post(id)
	c.logger.Info().Uint64("id", id).Str("points", view.Points.String()).Msg("Post liked.")
}

func (c *CLI) feed(ctx *cli.Context) {
	c.printPosts(c.coordinator.Snapshot().Feed())
}

func (c *CLI) trending(ctx *cli.Context) {
	c.printPosts(c.coordinator.Snapshot().Trending())
}

func (c *CLI) show(ctx *cli.Context) {
	id, ok := c.postID(ctx.Args())
	if !ok {
		c.logger.Error().Msg("Invalid usage: show <post-id>")
		return
	}

	view, found := c.coordinator.Snapshot().Post(id)
	if !found {
		c.logger.Error().Uint64("id", id).Msg("No such post is loaded.")
		return
	}

	content, err := c.coordinator.FetchContent(id)
	if err != nil {
		c.logger.Error().Err(err).Uint64("id", id).Msg("Failed to fetch the content.")
		return
	}

	c.logger.Info().
		Uint64("id", view.ID).
		Str("by", view.Handle).
		Str("creator", view.Creator).
		Str("points", view.Points.String()).
		Bool("liked", view.Liked).
		Str("content", string(content)).
		Msg("Here is the post.")
}

func (c *CLI) stake(ctx *cli.Context) {
	amount, ok := c.amount(ctx.Args(), false)
	if !ok {
		c.logger.Error().Msg("Invalid usage: stake <amount>")
		return
	}

	if err := c.coordinator.Stake(amount); err != nil {
		c.logger.Error().Err(err).Msg("Failed to stake.")
		return
	}

	token := c.coordinator.Snapshot().Token()
	c.logger.Info().
		Str("staked", token.Staked.String()).
		Uint64("voting_power", token.VotingPower).
		Msg("Stake placed.")
}

func (c *CLI) unstake(ctx *cli.Context) {
	amount, ok := c.amount(ctx.Args(), true)
	if !ok {
		c.logger.Error().Msg("Invalid usage: unstake [amount]")
		return
	}

	if err := c.coordinator.Unstake(amount); err != nil {
		c.logger.Error().Err(err).Msg("Failed to withdraw stake.")
		return
	}

	token := c.coordinator.Snapshot().Token()
	c.logger.Info().
		Str("staked", token.Staked.String()).
		Str("balance", token.Balance.String()).
		Msg("Stake withdrawn.")
}

func (c *CLI) claim(ctx *cli.Context) {
	if err := c.coordinator.Claim(); err != nil {
		c.logger.Error().Err(err).Msg("Failed to claim rewards.")
		return
	}

	c.logger.Info().
		Str("balance", c.coordinator.Snapshot().Token().Balance.String()).
		Msg("Rewards claimed.")
}

func (c *CLI) distribute(ctx *cli.Context) {
	if err := c.coordinator.DistributeRewards(); err != nil {
		c.logger.Error().Err(err).Msg("Failed to distribute rewards.")
		return
	}

	c.logger.Info().Msg("Weekly rewards distributed.")
}

func (c *CLI) refresh(ctx *cli.Context) {
	if err := c.coordinator.Refresh(); err != nil {
		c.logger.Error().Err(err).Msg("Failed to refresh the snapshot.")
		return
	}

	c.logger.Info().Int("posts", c.coordinator.Snapshot().PostCount()).Msg("Snapshot refreshed.")
}

func (c *CLI) printPosts(posts []vibefeed.PostView) {
	if len(posts) == 0 {
		c.logger.Info().Msg("Nothing here yet.")
		return
	}

	for _, view := range posts {
		c.logger.Info().
			Uint64("id", view.ID).
			Str("by", view.Handle).
			Str("points", view.Points.String()).
			Bool("liked", view.Liked).
			Msg("")
	}
}

func (c *CLI) postID(cmd []string) (uint64, bool) {
	if len(cmd) != 1 {
		return 0, false
	}

	id, err := strconv.ParseUint(cmd[0], 10, 64)
	if err != nil {
		return 0, false
	}

	return id, true
}

// amount parses a decimal token amount. With optional set, no argument
// means zero, which downstream reads as "everything".
func (c *CLI) amount(cmd []string, optional bool) (units.Amount, bool) {
	if len(cmd) == 0 {
		if optional {
			return units.Zero(), true
		}

		return units.Zero(), false
	}

	if len(cmd) != 1 {
		return units.Zero(), false
	}

	amount, err := units.Parse(cmd[0])
	if err != nil {
		c.logger.Error().Err(err).Msg("That is not a valid amount.")
		return units.Zero(), false
	}

	return amount, true
}
