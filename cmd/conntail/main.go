// conntail dials a connmux endpoint and streams payloads from the
// configured channels to the console.
// Usage: go run ./cmd/conntail --config configs/connmux.example.yaml -send logs=hello
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/connmux/internal/auth"
	"github.com/rickgao/connmux/internal/config"
	"github.com/rickgao/connmux/internal/connection"
	"github.com/rickgao/connmux/internal/logging"
	"github.com/rickgao/connmux/internal/version"
)

// message is one -send flag value.
type message struct {
	channel string
	payload string
}

// sendFlags collects repeated -send channel=payload flags.
type sendFlags []message

func (s *sendFlags) String() string {
	parts := make([]string, len(*s))
	for i, m := range *s {
		parts[i] = m.channel + "=" + m.payload
	}
	return strings.Join(parts, ",")
}

func (s *sendFlags) Set(v string) error {
	msg, err := parseMessage(v)
	if err != nil {
		return err
	}
	*s = append(*s, msg)
	return nil
}

func parseMessage(v string) (message, error) {
	channel, payload, ok := strings.Cut(v, "=")
	if !ok {
		return message{}, fmt.Errorf("expected channel=payload, got %q", v)
	}
	return message{channel: channel, payload: payload}, nil
}

// parseChannels splits a comma separated list, dropping empty entries.
func parseChannels(v string) []string {
	var out []string
	for _, ch := range strings.Split(v, ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			out = append(out, ch)
		}
	}
	return out
}

func main() {
	configPath := flag.String("config", "", "path to config file (defaults apply when empty)")
	urlFlag := flag.String("url", "", "override client.url")
	channels := flag.String("channels", "", "comma separated channels, overrides config")
	verbose := flag.Bool("verbose", false, "log at debug level")
	var sends sendFlags
	flag.Var(&sends, "send", "publish channel=payload after connecting (repeatable)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *urlFlag != "" {
		cfg.Client.URL = *urlFlag
	}
	if *channels != "" {
		cfg.Channels = parseChannels(*channels)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	// Payloads go to stdout, logs to stderr
	logger, logCloser, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	logger.Debug("starting conntail", version.Attrs()...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	if err := run(ctx, cfg, sends, os.Stdout, logger); err != nil {
		logger.Error("conntail failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadAndValidate(path)
}

// run subscribes to every configured channel, publishes sends, and prints
// payloads as "[channel] payload" until ctx ends or the peer disconnects.
func run(ctx context.Context, cfg *config.Config, sends []message, w io.Writer, logger *slog.Logger) error {
	header, err := handshakeHeader(cfg.Client)
	if err != nil {
		return err
	}

	m, err := connection.Dial(ctx, cfg.Client.URL, header, cfg.ConnectionConfig(), logger)
	if err != nil {
		return err
	}
	defer m.Close()

	logger.Info("connected", "url", cfg.Client.URL, "session", m.ID().String(), "channels", cfg.Channels)

	// Configured channels were registered before the reader started
	subs := m.Subscriptions()

	for _, msg := range sends {
		if err := m.Send(msg.channel, msg.payload); err != nil {
			return fmt.Errorf("send %s: %w", msg.channel, err)
		}
		logger.Debug("sent", "channel", msg.channel, "size", len(msg.payload))
	}

	out := make(chan string)
	var g errgroup.Group
	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			for payload := range sub.Messages() {
				out <- fmt.Sprintf("[%s] %s", sub.Channel(), payload)
			}
			return nil
		})
	}
	go func() {
		g.Wait()
		close(out)
	}()

	for {
		select {
		case line, ok := <-out:
			if !ok {
				out = nil
				continue
			}
			fmt.Fprintln(w, line)
		case <-m.Done():
			// Queues are closed once the reader stops; flush what they hold
			if out != nil {
				for line := range out {
					fmt.Fprintln(w, line)
				}
			}
			return m.Err()
		case <-ctx.Done():
			m.Close()
			if out != nil {
				for range out {
				}
			}
			return nil
		}
	}
}

// handshakeHeader signs the upgrade request when credentials are configured.
func handshakeHeader(cc config.ClientConfig) (http.Header, error) {
	if cc.Auth.KeyID == "" {
		return nil, nil
	}

	creds, err := auth.LoadCredentials(cc.Auth.KeyID, cc.Auth.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	u, err := url.Parse(cc.URL)
	if err != nil {
		return nil, fmt.Errorf("parse client url: %w", err)
	}

	return creds.SignHandshake(u.Path)
}
