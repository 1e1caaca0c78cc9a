package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/keyviewer-cloud/internal/credential"
	"github.com/tonimelisma/keyviewer-cloud/internal/session"
)

func newPushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Upload the local config document",
		Long: `Upload sync.local_config as the remote config document (storage.config_document).

With --watch, keep running and upload again whenever the local file changes.`,
		Args: cobra.NoArgs,
		RunE: runPush,
	}

	cmd.Flags().Bool("watch", false, "re-upload whenever the local file changes")

	return cmd
}

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Download the remote config document to sync.local_config",
		Args:  cobra.NoArgs,
		RunE:  runPull,
	}
}

func runPush(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	watch, _ := cmd.Flags().GetBool("watch")

	ctx := cmd.Context()
	if watch {
		ctx = shutdownContext(ctx, cc.Logger)
	}

	app, _, err := openDocuments(ctx, cc)
	if err != nil {
		return err
	}
	defer app.Close()

	local := cc.Cfg.Sync.LocalConfig
	push := func(ctx context.Context) error {
		return pushConfig(ctx, cc, app.Manager, local)
	}

	if err := push(ctx); err != nil {
		return err
	}

	if !watch {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}

	cc.Statusf("Watching %s for changes (Ctrl-C to stop)...\n", local)

	renew := renewingPush(app.Manager, push)

	err = watchFile(ctx, &fsnotifyWrapper{w: fsw}, local, cc.Cfg.WatchDebounce, renew, cc.Logger)
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// renewSession revalidates the active provider's credential, refreshing an
// expired access token. A long-running watch outlives Google access tokens.
func renewSession(ctx context.Context, mgr *session.Manager) error {
	kind := mgr.Active()
	if kind == credential.KindNone {
		return errLoginRequired
	}

	outcome, err := mgr.EnsureActive(ctx, kind)
	if errors.Is(err, errLoginRequired) || (err == nil && outcome != session.OutcomeActive) {
		return errLoginRequired
	}

	return err
}

// renewingPush wraps push so each call first renews the session.
func renewingPush(mgr *session.Manager, push func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := renewSession(ctx, mgr); err != nil {
			return err
		}

		return push(ctx)
	}
}

func pushConfig(ctx context.Context, cc *CLIContext, mgr *session.Manager, local string) error {
	raw, err := readDocument(local, nil)
	if err != nil {
		return err
	}

	entry, err := mgr.SaveConfig(ctx, raw)
	if err != nil {
		return err
	}

	cc.Logger.Info("pushed config", slog.String("local", local), slog.String("id", entry.ID))
	cc.Statusf("Pushed %s to %s\n", local, entry.Name)

	return nil
}

func runPull(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	app, _, err := openDocuments(ctx, cc)
	if err != nil {
		return err
	}
	defer app.Close()

	doc, found, err := app.Manager.LoadConfig(ctx)
	if err != nil {
		return err
	}

	if !found {
		return fmt.Errorf("no remote %s yet; run 'keyviewer-cloud push' first", app.Manager.ConfigDocument())
	}

	local := cc.Cfg.Sync.LocalConfig
	if err := writeFileAtomic(local, doc); err != nil {
		return err
	}

	cc.Logger.Info("pulled config", slog.String("local", local))
	cc.Statusf("Pulled %s to %s\n", app.Manager.ConfigDocument(), local)

	return nil
}

// writeFileAtomic writes data to a temp file beside path and renames it
// into place, so readers never see a partial document.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", tmpPath, err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing %s: %w", tmpPath, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming into %s: %w", path, err)
	}

	return nil
}

// FsWatcher is the subset of fsnotify.Watcher the watch loop uses.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct {
	w *fsnotify.Watcher
}

func (f *fsnotifyWrapper) Add(name string) error         { return f.w.Add(name) }
func (f *fsnotifyWrapper) Close() error                  { return f.w.Close() }
func (f *fsnotifyWrapper) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsnotifyWrapper) Errors() <-chan error          { return f.w.Errors }

// watchFile calls push after path changes and then stays quiet for the
// debounce window. The parent directory is watched because editors often
// replace a file by rename. A failed push is logged and the loop continues.
func watchFile(
	ctx context.Context, w FsWatcher, path string, debounce time.Duration,
	push func(context.Context) error, logger *slog.Logger,
) error {
	defer w.Close()

	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	target := filepath.Clean(path)

	timer := time.NewTimer(debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()

		case ev, ok := <-w.Events():
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != target {
				continue
			}

			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}

			logger.Debug("local config changed", slog.String("op", ev.Op.String()))
			timer.Reset(debounce)

		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}

			logger.Warn("file watcher error", slog.String("error", err.Error()))

		case <-timer.C:
			if err := push(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}

				logger.Warn("push failed", slog.String("error", err.Error()))
			}
		}
	}
}
