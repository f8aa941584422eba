// Package transfer turns configured actions into link transfers.
package transfer

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/kballard/go-shellquote"

	"databay/internal/config"
	"databay/internal/link"
	logx "databay/pkg/logx"
)

// maxOutput bounds how much command output or response body ends up in an error.
const maxOutput = 512

// Builder creates transfers and links from config.
type Builder struct {
	log    logx.Logger
	client *http.Client
}

type Option func(*Builder)

func WithLogger(log logx.Logger) Option {
	return func(b *Builder) { b.log = log }
}

func WithHTTPClient(c *http.Client) Option {
	return func(b *Builder) { b.client = c }
}

func NewBuilder(opts ...Option) *Builder {
	b := &Builder{}
	for _, o := range opts {
		o(b)
	}
	if b.log.IsZero() {
		b.log = logx.Nop()
	}
	if b.client == nil {
		b.client = &http.Client{}
	}
	return b
}

// Link builds a link from its config. The config is expected to be validated.
func (b *Builder) Link(lc config.LinkConfig) (*link.Link, error) {
	name := strings.TrimSpace(lc.Name)
	interval, err := config.ParseDurationField("links["+name+"].interval", lc.Interval)
	if err != nil {
		return nil, err
	}
	fn, err := b.Transfer(name, lc.Action)
	if err != nil {
		return nil, err
	}
	return link.New(name, interval, fn, link.WithTags(lc.Tags...)), nil
}

// Transfer builds the unit of work for one action. A positive timeout bounds
// each run.
func (b *Builder) Transfer(name string, a config.ActionConfig) (link.TransferFunc, error) {
	timeout, err := config.ParseDurationField("links["+name+"].action.timeout", a.Timeout)
	if err != nil {
		return nil, err
	}

	var fn link.TransferFunc
	switch kind := strings.ToLower(strings.TrimSpace(a.Kind)); kind {
	case config.ActionLog:
		fn = b.logAction(name, a)
	case config.ActionShell:
		fn, err = b.shellAction(a)
	case config.ActionHTTP:
		fn = b.httpAction(a)
	default:
		err = errors.Newf("unknown action kind %q", a.Kind)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "link %s", name)
	}
	return withTimeout(fn, timeout), nil
}

func withTimeout(fn link.TransferFunc, timeout time.Duration) link.TransferFunc {
	if timeout <= 0 {
		return fn
	}
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(ctx)
	}
}

func (b *Builder) logAction(name string, a config.ActionConfig) link.TransferFunc {
	msg := strings.TrimSpace(a.Message)
	if msg == "" {
		msg = "transfer"
	}
	log := b.log.With(logx.String("link", name))
	return func(context.Context) error {
		log.Info(msg)
		return nil
	}
}

func (b *Builder) shellAction(a config.ActionConfig) (link.TransferFunc, error) {
	argv, err := shellquote.Split(a.Command)
	if err != nil {
		return nil, errors.Wrap(err, "parse command")
	}
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	// Bare names must resolve on PATH now; paths resolve against dir at run time.
	if !strings.ContainsRune(argv[0], filepath.Separator) && !strings.ContainsRune(argv[0], '/') {
		if _, err := exec.LookPath(argv[0]); err != nil {
			return nil, errors.WithHint(errors.Wrapf(err, "command %s", argv[0]), "install it or use an absolute path")
		}
	}
	dir := strings.TrimSpace(a.Dir)
	return func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		if err != nil {
			if ctx.Err() != nil {
				return errors.Wrapf(ctx.Err(), "command %s", argv[0])
			}
			return errors.WithDetail(errors.Wrapf(err, "command %s", argv[0]), tail(out))
		}
		b.log.Debug("command finished", logx.String("cmd", argv[0]), logx.Int("output_bytes", len(out)))
		return nil
	}, nil
}

func (b *Builder) httpAction(a config.ActionConfig) link.TransferFunc {
	method := strings.ToUpper(strings.TrimSpace(a.Method))
	if method == "" {
		method = http.MethodGet
	}
	url := strings.TrimSpace(a.URL)
	body := a.Body
	expect := a.Expect
	return func(ctx context.Context) error {
		var rd io.Reader
		if body != "" {
			rd = strings.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, rd)
		if err != nil {
			return errors.Wrap(err, "build request")
		}
		resp, err := b.client.Do(req)
		if err != nil {
			return errors.Wrapf(err, "%s %s", method, url)
		}
		defer resp.Body.Close()
		head, _ := io.ReadAll(io.LimitReader(resp.Body, maxOutput))
		_, _ = io.Copy(io.Discard, resp.Body)

		ok := resp.StatusCode >= 200 && resp.StatusCode < 300
		if expect != 0 {
			ok = resp.StatusCode == expect
		}
		if !ok {
			return errors.WithDetail(errors.Newf("%s %s: unexpected status %d", method, url, resp.StatusCode), tail(head))
		}
		return nil
	}
}

func tail(out []byte) string {
	out = bytes.TrimSpace(out)
	if len(out) > maxOutput {
		out = out[len(out)-maxOutput:]
	}
	return string(out)
}
