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

// Package log wires zerolog into per-module child loggers sharing one
// switchable set of writers.
package log

import (
	"io"

	"github.com/rs/zerolog"
)

var (
	output = &multiWriter{
		writers: make(map[string]io.Writer),
	}
	logger = zerolog.New(output).With().Timestamp().Logger()

	wallet  zerolog.Logger
	ledger  zerolog.Logger
	syncer  zerolog.Logger
	store   zerolog.Logger
	gateway zerolog.Logger
	server  zerolog.Logger
	metrics zerolog.Logger
)

const (
	KeyModule = "mod"
	KeyEvent  = "event"

	ModuleWallet  = "wallet"
	ModuleLedger  = "ledger"
	ModuleSync    = "sync"
	ModuleStore   = "store"
	ModuleGateway = "gateway"
	ModuleAPI     = "api"
	ModuleMetrics = "metrics"
)

func init() { // nolint:gochecknoinits
	zerolog.MessageFieldName = "message"
	zerolog.LevelFieldName = "level"
	zerolog.ErrorFieldName = "error"

	setupChildLoggers()
}

func setupChildLoggers() {
	wallet = logger.With().Str(KeyModule, ModuleWallet).Logger()
	ledger = logger.With().Str(KeyModule, ModuleLedger).Logger()
	syncer = logger.With().Str(KeyModule, ModuleSync).Logger()
	store = logger.With().Str(KeyModule, ModuleStore).Logger()
	gateway = logger.With().Str(KeyModule, ModuleGateway).Logger()
	server = logger.With().Str(KeyModule, ModuleAPI).Logger()
	metrics = logger.With().Str(KeyModule, ModuleMetrics).Logger()
}

func SetLevel(level string) {
	if l, err := zerolog.ParseLevel(level); err == nil {
		wallet = wallet.Level(l)
		ledger = ledger.Level(l)
		syncer = syncer.Level(l)
		store = store.Level(l)
		gateway = gateway.Level(l)
		server = server.Level(l)
		metrics = metrics.Level(l)
	}
}

func SetWriter(key string, writer io.Writer) {
	output.Set(key, writer)
}

func RemoveWriter(key string) {
	output.Remove(key)
}

// The helpers hand out *zerolog.Logger: the level methods hang off the
// pointer receiver, so the child logger has to land in an addressable
// spot before anything can chain on it.

func Wallet(event string) *zerolog.Logger {
	l := wallet.With().Str(KeyEvent, event).Logger()
	return &l
}

func Ledger(event string) *zerolog.Logger {
	l := ledger.With().Str(KeyEvent, event).Logger()
	return &l
}

func Sync(event string) *zerolog.Logger {
	l := syncer.With().Str(KeyEvent, event).Logger()
	return &l
}

func Store(event string) *zerolog.Logger {
	l := store.With().Str(KeyEvent, event).Logger()
	return &l
}

func Gateway(event string) *zerolog.Logger {
	l := gateway.With().Str(KeyEvent, event).Logger()
	return &l
}

func API() *zerolog.Logger {
	return &server
}

func Metrics() *zerolog.Logger {
	return &metrics
}
