package cli

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/avivsinai/mailsync/internal/fsq"
	"github.com/avivsinai/mailsync/internal/mailbox"
	"github.com/avivsinai/mailsync/internal/metrics"
)

type watchResult struct {
	Event    string         `json:"event"`
	Messages []messageInfo  `json:"messages,omitempty"`
	Stats    *mailbox.Stats `json:"stats,omitempty"`
}

// changeFunc receives each status other than Unchanged together with the
// messages that were not in the mailbox before. Returning true stops the watch.
type changeFunc func(st mailbox.Status, fresh []messageInfo) (bool, error)

func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	common := addCommonFlags(fs)
	timeoutFlag := fs.Duration("timeout", 60*time.Second, "Maximum time to wait (0 = wait forever)")
	pollFlag := fs.Bool("poll", false, "Use polling instead of fsnotify (for network filesystems)")
	intervalFlag := fs.Duration("interval", 500*time.Millisecond, "Polling interval")
	followFlag := fs.Bool("follow", false, "Keep watching after the first change")
	metricsFlag := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9150)")

	usage := usageWithFlags(fs, "mailsync watch --mailbox <path> [--timeout <d>] [--follow] [options]")
	if handled, err := parseFlags(fs, args, usage); err != nil {
		return err
	} else if handled {
		return nil
	}
	if *intervalFlag <= 0 {
		return UsageError("--interval must be > 0")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if *timeoutFlag > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeoutFlag)
		defer cancel()
	}

	s, err := openMailbox(ctx, common)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if *metricsFlag != "" {
		shutdown, err := serveMetrics(*metricsFlag, s.log)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	events := 0
	onChange := func(st mailbox.Status, fresh []messageInfo) (bool, error) {
		events++
		stats := s.mb.Stats()
		if err := outputWatchResult(common.JSON, watchResult{Event: st.String(), Messages: fresh, Stats: &stats}); err != nil {
			return true, err
		}
		return !*followFlag, nil
	}

	err = watchMailbox(ctx, s, *pollFlag, *intervalFlag, onChange)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		if events > 0 {
			return nil
		}
		if err := outputWatchResult(common.JSON, watchResult{Event: "timeout"}); err != nil {
			return err
		}
		return TimeoutError("watch timed out")
	case errors.Is(err, context.Canceled):
		return AbortedError("watch interrupted")
	}
	return mailboxError(err)
}

func serveMetrics(addr string, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", slog.Any("err", err))
		}
	}()
	logger.Info("serving metrics", slog.String("addr", ln.Addr().String()))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func watchDirs(mb *mailbox.Mailbox) []string {
	if mb.Flavor() == mailbox.MH {
		return []string{mb.Root()}
	}
	return []string{fsq.NewDir(mb.Root()), fsq.CurDir(mb.Root())}
}

// watchMailbox runs Check whenever the mailbox directories change and hands
// every result other than Unchanged to onChange.
func watchMailbox(ctx context.Context, s *session, poll bool, interval time.Duration, onChange changeFunc) error {
	known := make(map[string]struct{})
	for _, m := range s.mb.Messages() {
		known[messageID(s.mb, m)] = struct{}{}
	}
	check := func() (bool, error) {
		st, err := s.mb.Check(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			return true, err
		}
		if st == mailbox.Unchanged {
			return false, nil
		}
		if st == mailbox.Reopened {
			if n := s.mb.Prune(); n > 0 {
				s.log.Debug("pruned removed messages", slog.Int("count", n))
			}
		}
		var fresh []messageInfo
		current := make(map[string]struct{}, len(known))
		for _, m := range s.mb.Messages() {
			id := messageID(s.mb, m)
			current[id] = struct{}{}
			if _, ok := known[id]; !ok {
				fresh = append(fresh, describe(s.mb, m))
			}
		}
		known = current
		return onChange(st, fresh)
	}

	if !poll {
		err := watchWithFsnotify(ctx, s, check)
		if !errors.Is(err, errNoNotify) {
			return err
		}
		s.log.Debug("fsnotify unavailable, polling", slog.Duration("interval", interval))
	}
	return watchWithPolling(ctx, interval, check)
}

var errNoNotify = errors.New("fsnotify unavailable")

func watchWithFsnotify(ctx context.Context, s *session, check func() (bool, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errNoNotify
	}
	defer func() { _ = watcher.Close() }()

	for _, dir := range watchDirs(s.mb) {
		if err := watcher.Add(dir); err != nil {
			return errNoNotify
		}
	}

	// Check once after the watcher is in place so nothing that arrived since
	// the mailbox was opened is missed.
	if done, err := check(); done || err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			// Let a burst of renames settle before rescanning.
			time.Sleep(10 * time.Millisecond)
			if done, err := check(); done || err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			return err
		}
	}
}

func watchWithPolling(ctx context.Context, interval time.Duration, check func() (bool, error)) error {
	if done, err := check(); done || err != nil {
		return err
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if done, err := check(); done || err != nil {
				return err
			}
		}
	}
}

func outputWatchResult(jsonOutput bool, result watchResult) error {
	if jsonOutput {
		return writeJSON(os.Stdout, result)
	}

	switch result.Event {
	case "timeout":
		return writeStdoutLine("No changes (timeout)")
	case mailbox.NewMail.String():
		if err := writeStdoutLine("New mail:"); err != nil {
			return err
		}
	case mailbox.Reopened.String():
		if err := writeStdoutLine("Messages removed by another agent."); err != nil {
			return err
		}
	case mailbox.FlagsChanged.String():
		if err := writeStdoutLine("Flags changed by another agent."); err != nil {
			return err
		}
	}
	for _, m := range result.Messages {
		if err := writeStdoutLine("  " + formatListLine(m)); err != nil {
			return err
		}
	}
	return nil
}
