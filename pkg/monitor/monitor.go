// Package monitor streams the store's MONITOR feed to a callback.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mirkobrombin/go-foundation/pkg/options"
	"github.com/mirkobrombin/go-walrus/pkg/errs"
	"github.com/mirkobrombin/go-walrus/pkg/metrics"
	"github.com/redis/go-redis/v9"
)

// Tap opens a dedicated monitor feed writing one line per executed
// command to lines. The returned stop function closes the feed.
type Tap interface {
	Open(ctx context.Context, lines chan string) (stop func(), err error)
}

// RedisTap opens the feed on a single-node client.
type RedisTap struct {
	Client *redis.Client
}

func (t RedisTap) Open(ctx context.Context, lines chan string) (func(), error) {
	if t.Client == nil {
		return nil, errs.Usagef("monitor: nil client")
	}
	cmd := t.Client.Monitor(ctx, lines)
	cmd.Start()
	if err := cmd.Err(); err != nil {
		cmd.Stop()
		return nil, err
	}
	return cmd.Stop, nil
}

// Callback receives one raw line; returning false ends the feed.
type Callback func(line string) bool

type config struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	buffer  int
}

// Option configures Run.
type Option = options.Option[config]

func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithBuffer sets how many lines may queue between the feed and the
// callback.
func WithBuffer(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.buffer = n
		}
	}
}

// Run delivers feed lines to callback one at a time. It returns nil once
// the callback declines a line and ctx.Err() when ctx ends first. The
// handshake reply is not delivered.
func Run(ctx context.Context, tap Tap, callback Callback, opts ...Option) error {
	if tap == nil || callback == nil {
		return errs.Usagef("monitor: tap and callback are required")
	}
	cfg := config{logger: slog.Default(), buffer: 256}
	options.Apply(&cfg, opts...)

	lines := make(chan string, cfg.buffer)
	stop, err := tap.Open(ctx, lines)
	if err != nil {
		return err
	}
	defer stop()

	cfg.logger.Debug("walrus: monitor started")
	handshake := true
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line := <-lines:
			if handshake {
				handshake = false
				if line == "OK" {
					continue
				}
			}
			cfg.metrics.MonitorLine()
			if !callback(line) {
				cfg.logger.Debug("walrus: monitor stopped by callback")
				return nil
			}
		}
	}
}

// Trace is a parsed feed line.
type Trace struct {
	Time    time.Time
	DB      int
	Addr    string
	Command string
	Args    []string
	Raw     string
}

// ParseLine parses a line such as
//
//	1339518083.107412 [0 127.0.0.1:60866] "set" "k" "v"
//
// Command is upper-cased.
func ParseLine(line string) (Trace, error) {
	tr := Trace{Raw: line}

	stamp, rest, ok := strings.Cut(line, " ")
	if !ok {
		return tr, fmt.Errorf("monitor: malformed line %q", line)
	}
	ts, err := parseStamp(stamp)
	if err != nil {
		return tr, err
	}
	tr.Time = ts

	if !strings.HasPrefix(rest, "[") {
		return tr, fmt.Errorf("monitor: missing client section in %q", line)
	}
	client, rest, ok := strings.Cut(rest[1:], "] ")
	if !ok {
		return tr, fmt.Errorf("monitor: unterminated client section in %q", line)
	}
	db, addr, _ := strings.Cut(client, " ")
	if tr.DB, err = strconv.Atoi(db); err != nil {
		return tr, fmt.Errorf("monitor: bad database %q: %w", db, err)
	}
	tr.Addr = addr

	words, err := splitQuoted(rest)
	if err != nil {
		return tr, err
	}
	if len(words) == 0 {
		return tr, fmt.Errorf("monitor: no command in %q", line)
	}
	tr.Command = strings.ToUpper(words[0])
	tr.Args = words[1:]
	return tr, nil
}

func parseStamp(s string) (time.Time, error) {
	secs, frac, _ := strings.Cut(s, ".")
	sec, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("monitor: bad timestamp %q: %w", s, err)
	}
	var nsec int64
	if frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		if nsec, err = strconv.ParseInt(frac, 10, 64); err != nil {
			return time.Time{}, fmt.Errorf("monitor: bad timestamp %q: %w", s, err)
		}
		for i := len(frac); i < 9; i++ {
			nsec *= 10
		}
	}
	return time.Unix(sec, nsec), nil
}

// splitQuoted splits space separated double-quoted words, resolving the
// escapes the server emits.
func splitQuoted(s string) ([]string, error) {
	var words []string
	for i := 0; i < len(s); {
		if s[i] == ' ' {
			i++
			continue
		}
		if s[i] != '"' {
			return nil, fmt.Errorf("monitor: expected quoted word at %d in %q", i, s)
		}
		end := i + 1
		for ; end < len(s); end++ {
			if s[end] == '\\' {
				end++
				continue
			}
			if s[end] == '"' {
				break
			}
		}
		if end >= len(s) {
			return nil, fmt.Errorf("monitor: unterminated word in %q", s)
		}
		word, err := strconv.Unquote(s[i : end+1])
		if err != nil {
			return nil, fmt.Errorf("monitor: bad word %s: %w", s[i:end+1], err)
		}
		words = append(words, word)
		i = end + 1
	}
	return words, nil
}
