package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/valyala/fastjson"
)

// ConsoleWriter renders log lines for a TTY, optionally restricted to a
// set of modules.
type ConsoleWriter struct {
	inner zerolog.ConsoleWriter

	filtered map[string]struct{}

	pool fastjson.ParserPool
}

// FilterFor restricts the writer to the given modules.
func FilterFor(modules ...string) func(w *ConsoleWriter) {
	return func(w *ConsoleWriter) {
		for _, mod := range modules {
			w.filtered[mod] = struct{}{}
		}
	}
}

func NewConsoleWriter(out io.Writer, opts ...func(w *ConsoleWriter)) *ConsoleWriter {
	if out == nil {
		out = os.Stderr
	}

	w := &ConsoleWriter{
		inner:    zerolog.ConsoleWriter{Out: out},
		filtered: make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

func (w *ConsoleWriter) Write(p []byte) (int, error) {
	if len(w.filtered) > 0 {
		parser := w.pool.Get()

		v, err := parser.ParseBytes(p)
		if err != nil {
			w.pool.Put(parser)
			return len(p), nil
		}

		mod := string(v.GetStringBytes(KeyModule))
		w.pool.Put(parser)

		if _, ok := w.filtered[mod]; !ok {
			return len(p), nil
		}
	}

	return w.inner.Write(p)
}
