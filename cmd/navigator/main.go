// Navigator - workspace tree client
//
// Loads the workspace element graph with its validation markers, runs
// rename/copy/delete/create through the pull/action protocol, and follows
// marker and activity updates from the server.
//
// Sub-commands:
//
//	navigator tree                         Print the tree with marker totals
//	navigator rename <path> <name>         Rename an element
//	navigator copy <src> <dstDir>          Copy an element into a folder
//	navigator delete <path>                Delete an element
//	navigator create <parent> <name>       Create a file (-folder for a folder)
//	navigator watch                        Follow markers and activities
//	navigator history                      Show the action journal
//	navigator login | logout               Manage the saved token
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/fruitsalade/navigator/internal/config"
	"github.com/fruitsalade/navigator/internal/events"
	"github.com/fruitsalade/navigator/internal/journal"
	"github.com/fruitsalade/navigator/internal/logging"
	"github.com/fruitsalade/navigator/internal/metrics"
	"github.com/fruitsalade/navigator/pkg/client"
	"github.com/fruitsalade/navigator/pkg/models"
	"github.com/fruitsalade/navigator/pkg/pullaction"
	"github.com/fruitsalade/navigator/pkg/retry"
	"github.com/fruitsalade/navigator/pkg/tree"
	"github.com/fruitsalade/navigator/pkg/workspace"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: navigator <tree|rename|copy|delete|create|watch|history|login|logout> [args]\n")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := logging.Init(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.Output,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: init logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	args := os.Args[2:]
	switch os.Args[1] {
	case "login":
		err = cmdLogin(ctx, cfg, args)
	case "logout":
		err = cmdLogout(cfg)
	case "history":
		err = cmdHistory(ctx, cfg, args)
	case "tree":
		err = cmdTree(ctx, cfg, args)
	case "rename":
		err = cmdAction(ctx, cfg, "rename", args, 2, func(w *workspace.Workspace, a []string) (workspace.Report, error) {
			return w.Rename(ctx, a[0], a[1])
		})
	case "copy":
		err = cmdAction(ctx, cfg, "copy", args, 2, func(w *workspace.Workspace, a []string) (workspace.Report, error) {
			return w.Copy(ctx, a[0], a[1])
		})
	case "delete":
		err = cmdAction(ctx, cfg, "delete", args, 1, func(w *workspace.Workspace, a []string) (workspace.Report, error) {
			return w.Delete(ctx, a[0])
		})
	case "create":
		err = cmdCreate(ctx, cfg, args)
	case "watch":
		err = cmdWatch(ctx, cfg, args)
	default:
		usage()
	}

	if err != nil {
		logging.L().Error("command failed", zap.String("command", os.Args[1]), zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// session is the wiring shared by every command that talks to the server.
type session struct {
	cfg     *config.Config
	client  *client.Client
	journal *journal.Journal
	events  *events.Broadcaster
	ws      *workspace.Workspace
	token   *client.TokenFile
}

func newClient(cfg *config.Config) *client.Client {
	return client.New(client.Config{
		BaseURL: cfg.Server.URL,
		Timeout: cfg.Server.Timeout,
		RetryConfig: retry.Config{
			MaxAttempts: cfg.Retry.MaxAttempts,
			InitialWait: cfg.Retry.InitialWait,
			MaxWait:     cfg.Retry.MaxWait,
			Multiplier:  2,
			Jitter:      0.1,
		},
		Logger:     logging.Named("client"),
		OnResponse: metrics.RecordHTTPRequest,
	})
}

func openSession(ctx context.Context, cfg *config.Config) (*session, error) {
	s := &session{cfg: cfg, client: newClient(cfg), events: events.NewBroadcaster()}

	token := cfg.Server.Token
	if token == "" {
		tf, err := client.LoadToken(cfg.Server.TokenFile)
		if err == nil {
			if tf.IsExpired(0) {
				return nil, fmt.Errorf("saved token has expired, run 'navigator login'")
			}
			token = tf.Token
			s.token = tf
			logging.L().Debug("using saved token", zap.String("user", tf.Username), zap.String("server", tf.Server))
		}
	}
	s.client.SetAuthToken(token)

	if cfg.Journal.DSN != "" {
		j, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN, logging.Named("journal"))
		if err != nil {
			return nil, err
		}
		if err := j.Migrate(ctx); err != nil {
			j.Close()
			return nil, err
		}
		s.journal = j
	}

	opts := []workspace.Option{
		workspace.WithLogger(logging.Named("workspace")),
		workspace.WithEvents(s.events),
		workspace.WithMetrics(func(action string) pullaction.Observer {
			return metrics.ForAction(action)
		}),
		workspace.WithDialer(func(ctx context.Context) (workspace.Transport, error) {
			if err := s.client.Ping(ctx); err != nil {
				return nil, err
			}
			return s.client, nil
		}),
	}
	if s.journal != nil {
		opts = append(opts, workspace.WithJournal(s.journal))
	}
	if cfg.Tree.CaseInsensitive {
		opts = append(opts, workspace.WithTreeOptions(tree.WithCaseInsensitiveNames()))
	}
	s.ws = workspace.New(s.client, nil, opts...)

	if err := s.ws.Load(ctx); err != nil {
		s.Close()
		return nil, err
	}
	s.ws.View(func(t *tree.Tree) { metrics.SetTreeNodes(t.Len()) })
	return s, nil
}

func (s *session) Close() {
	if s.journal != nil {
		s.journal.Close()
	}
}

func cmdTree(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("tree", flag.ExitOnError)
	depth := fs.Int("depth", -1, "Maximum depth to print (-1 for all)")
	fs.Parse(args)

	s, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	s.ws.View(func(t *tree.Tree) {
		printNode(t, t.Root(), 0, *depth)
	})
	return nil
}

func printNode(t *tree.Tree, n *tree.Node, level, maxDepth int) {
	name := n.Name()
	if n.Parent() == nil {
		name = tree.RootPath
	} else if n.IsFolder() {
		name += "/"
	}
	line := fmt.Sprintf("%s%s", strings.Repeat("  ", level), name)
	if c := n.Validation(); !c.IsZero() {
		line += fmt.Sprintf("  E%d W%d I%d", c.Errors, c.Warnings, c.Infos)
	}
	if users := t.AllActivities().UsersAt(n.ID()); len(users) > 0 {
		line += "  [" + strings.Join(users, ", ") + "]"
	}
	fmt.Println(line)

	if maxDepth >= 0 && level >= maxDepth {
		return
	}
	for _, c := range n.Children() {
		printNode(t, c, level+1, maxDepth)
	}
}

func cmdAction(ctx context.Context, cfg *config.Config, name string, args []string, nargs int,
	run func(*workspace.Workspace, []string) (workspace.Report, error)) error {

	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != nargs {
		return fmt.Errorf("%s expects %d arguments, got %d", name, nargs, fs.NArg())
	}

	s, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	report, err := run(s.ws, fs.Args())
	if err != nil {
		return err
	}
	return printReport(report)
}

func cmdCreate(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	folder := fs.Bool("folder", false, "Create a folder instead of a file")
	fs.Parse(args)
	if fs.NArg() != 2 {
		return fmt.Errorf("create expects <parent> <name>")
	}

	typ := models.TypeFile
	if *folder {
		typ = models.TypeFolder
	}

	s, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	report, err := s.ws.Create(ctx, fs.Arg(0), fs.Arg(1), typ)
	if err != nil {
		return err
	}
	return printReport(report)
}

func printReport(r workspace.Report) error {
	fmt.Printf("%s %s: %s (retries: %d)\n", r.Action, strings.Join(r.Paths, " -> "), r.State, r.Retries)
	for _, p := range r.ChangedResources {
		fmt.Printf("  changed:   %s\n", p)
	}
	for _, b := range r.BackedUpResources {
		fmt.Printf("  backed up: %s -> %s\n", b.Resource, b.BackupResource)
	}
	if r.ApplyErr != nil {
		fmt.Printf("  local tree out of sync: %v\n", r.ApplyErr)
	}

	if ce, ok := r.Conflict(); ok {
		return fmt.Errorf("conflict: %s", ce.Message)
	}
	if !r.Succeeded() {
		return r.Err
	}
	return nil
}

func cmdWatch(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	metricsAddr := fs.String("metrics", cfg.Metrics.Addr, "Address to serve Prometheus metrics on (empty to disable)")
	quiet := fs.Bool("q", false, "Do not print tree events")
	fs.Parse(args)

	s, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	if s.token != nil {
		s.client.StartTokenRefreshLoop(ctx, s.token, cfg.Server.TokenFile)
	}

	log := logging.Named("watch")
	log.Info("watching workspace", zap.String("server", cfg.Server.URL))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.ws.Follow(gctx, s.client.Events().Markers(gctx), s.client.Activities().Subscribe(gctx))
	})

	sub := s.events.Subscribe()
	g.Go(func() error {
		defer s.events.Unsubscribe(sub)
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev := <-sub:
				recordEvent(s.ws, ev)
				if !*quiet {
					fmt.Printf("%s  %-10s %s %s\n", time.Unix(ev.Timestamp, 0).Format(time.TimeOnly), ev.Type, ev.Path, ev.Detail)
				}
			}
		}
	})

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info("serving metrics", zap.String("addr", *metricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func recordEvent(ws *workspace.Workspace, ev events.Event) {
	switch ev.Type {
	case events.EventMarkers:
		metrics.RecordMarkers(ev.Count, ev.Unknown)
	case events.EventActivities:
		metrics.RecordActivitySnapshot(ev.Count)
	case events.EventLoaded, events.EventAction:
		ws.View(func(t *tree.Tree) { metrics.SetTreeNodes(t.Len()) })
	}
}

func cmdHistory(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("n", 20, "Number of entries to show")
	fs.Parse(args)

	if cfg.Journal.DSN == "" {
		return fmt.Errorf("journal is disabled")
	}
	j, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN, logging.Named("journal"))
	if err != nil {
		return err
	}
	defer j.Close()
	if err := j.Migrate(ctx); err != nil {
		return err
	}

	entries, err := j.Recent(ctx, *limit)
	if err != nil {
		return err
	}
	fmt.Printf("%-19s  %-7s  %-10s  %7s  %s\n", "TIME", "ACTION", "STATE", "RETRIES", "PATHS")
	for _, e := range entries {
		fmt.Printf("%-19s  %-7s  %-10s  %7d  %s\n",
			e.CreatedAt.Local().Format(time.DateTime), e.Action, e.State, e.Retries, strings.Join(e.Paths, " -> "))
		if e.Message != "" {
			fmt.Printf("%21s%s\n", "", e.Message)
		}
	}
	return nil
}

func cmdLogin(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	fs.Parse(args)

	c := newClient(cfg)

	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Username: ")
	username, _ := reader.ReadString('\n')
	username = strings.TrimSpace(username)

	fmt.Print("Password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	resp, err := c.Login(ctx, username, string(passwordBytes))
	if err != nil {
		return err
	}

	tf := &client.TokenFile{
		Token:     resp.Token,
		ExpiresAt: resp.ExpiresAt,
		Server:    cfg.Server.URL,
		Username:  username,
	}
	if tf.ExpiresAt.IsZero() {
		if exp, err := client.TokenExpiry(resp.Token); err == nil {
			tf.ExpiresAt = exp
		}
	}
	if err := client.SaveToken(cfg.Server.TokenFile, tf); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to save token: %v\n", err)
		return nil
	}
	fmt.Printf("Login successful! Logged in as %s. Token saved to %s\n", username, cfg.Server.TokenFile)
	return nil
}

func cmdLogout(cfg *config.Config) error {
	if _, err := client.LoadToken(cfg.Server.TokenFile); err != nil {
		fmt.Println("No saved token found.")
		return nil
	}
	if err := client.DeleteToken(cfg.Server.TokenFile); err != nil {
		return err
	}
	fmt.Println("Logged out.")
	return nil
}
