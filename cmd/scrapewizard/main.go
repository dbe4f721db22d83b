// Command scrapewizard turns a listing page into a tested extractor.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/scrapewizard/internal/analysis"
	"github.com/hazyhaar/scrapewizard/internal/codegen"
	"github.com/hazyhaar/scrapewizard/internal/gate"
	"github.com/hazyhaar/scrapewizard/internal/llm"
	"github.com/hazyhaar/scrapewizard/internal/snapshot"
	"github.com/hazyhaar/scrapewizard/internal/store"
	"github.com/hazyhaar/scrapewizard/wizard"
)

const version = "0.1.0"

type options struct {
	configPath string
	logLevel   string
	ci         bool
	expert     bool
	studio     bool
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var o options

	cmd := &cobra.Command{
		Use:           "scrapewizard",
		Short:         "Build a tested extractor for a listing page",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			// .env is optional; the environment wins.
			_ = godotenv.Load()
		},
	}
	cmd.PersistentFlags().StringVarP(&o.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&o.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&o.ci, "ci", false, "Take every gate default and fail instead of waiting for a human")
	cmd.PersistentFlags().BoolVar(&o.expert, "expert", false, "Print the internal trace: hostility, transitions, classifier decisions")

	build := &cobra.Command{
		Use:   "build <url>",
		Short: "Start a new session for a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), &o, func(context.Context, *app) (*wizard.Session, error) {
				return wizard.NewSession(args[0]), nil
			})
		},
	}
	resume := &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Continue a stored session from its last phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), &o, func(ctx context.Context, a *app) (*wizard.Session, error) {
				return a.sessions.Load(ctx, args[0])
			})
		},
	}
	for _, c := range []*cobra.Command{build, resume} {
		c.Flags().BoolVar(&o.studio, "studio", false, "Answer gates through the studio HTTP/MCP API instead of the terminal")
	}

	cmd.AddCommand(build, resume, statusCmd(&o), replayCmd(&o), serveCmd(&o), &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(*cobra.Command, []string) {
			fmt.Printf("scrapewizard %s\n", version)
		},
	})
	return cmd
}

func statusCmd(o *options) *cobra.Command {
	var limit int
	var events bool
	cmd := &cobra.Command{
		Use:   "status [session-id]",
		Short: "List stored sessions, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(o)
			if err != nil {
				return err
			}
			st, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()
			sessions := wizard.NewSQLStore(st)

			if len(args) == 1 {
				s, err := sessions.Load(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printSession(s)
				if events {
					return printEvents(cmd.Context(), sessions, s.ID, limit)
				}
				return nil
			}

			list, err := sessions.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPHASE\tOUTCOME\tREPAIRS\tUPDATED\tURL")
			for _, s := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", s.ID, s.Phase, s.Outcome, s.Attempts, s.UpdatedAt.Local().Format(time.DateTime), s.URL)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Max sessions or events to list")
	cmd.Flags().BoolVar(&events, "events", false, "With a session ID, also print its event journal")
	return cmd
}

func replayCmd(o *options) *cobra.Command {
	var pages []string
	cmd := &cobra.Command{
		Use:   "replay <session-id> <saved.html>",
		Short: "Run a session's extractor over saved HTML pages, without a browser",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(o)
			if err != nil {
				return err
			}
			st, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			s, err := wizard.NewSQLStore(st).Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			first, err := snapshot.ParseFile(s.Target().URL, args[1])
			if err != nil {
				return err
			}
			docs := []*snapshot.Doc{first}
			for _, p := range pages {
				u, path, ok := strings.Cut(p, "=")
				if !ok {
					return fmt.Errorf("--page %q: want URL=FILE", p)
				}
				d, err := snapshot.ParseFile(u, path)
				if err != nil {
					return err
				}
				docs = append(docs, d)
			}

			res, err := wizard.Replay(cmd.Context(), cfg, s, docs, logger)
			if err != nil {
				return err
			}
			fmt.Printf("exit %d: %d records over %d pages, %d skipped, missing ratio %.2f\n",
				res.ExitStatus, res.RecordsExtracted, res.PagesVisited, res.Skipped, res.MissingFieldRatio)
			for _, p := range res.OutputPaths {
				fmt.Println(p)
			}
			if !res.Succeeded() {
				return errors.New(strings.TrimSpace(res.Diagnostics))
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&pages, "page", nil, "Further saved page as URL=FILE, reachable by clicking its link")
	return cmd
}

func serveCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only studio API over stored sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(o)
			if err != nil {
				return err
			}
			st, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			reg := prometheus.NewRegistry()
			studio := wizard.NewStudio(wizard.NewSQLStore(st), nil, nil, logger)
			return serveStudio(ctx, cfg.Studio.Addr, studio, reg, logger)
		},
	}
}

// app holds everything a build or resume needs.
type app struct {
	cfg      *wizard.Config
	log      *slog.Logger
	env      *wizard.Live
	store    *store.Store
	sessions *wizard.SQLStore
	channel  *gate.Channel
	ctrl     *wizard.Controller
	reg      *prometheus.Registry
	closers  []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("scrapewizard: shutdown", "error", err)
		}
	}
}

func run(parent context.Context, o *options, session func(context.Context, *app) (*wizard.Session, error)) error {
	cfg, logger, err := setup(o)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := wire(ctx, cfg, o, logger)
	if err != nil {
		return err
	}
	defer a.close()

	s, err := session(ctx, a)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "session %s (%s)\n", s.ID, s.URL)

	if a.channel != nil {
		studio := wizard.NewStudio(a.sessions, a.channel, a.ctrl, logger)
		go func() {
			if err := serveStudio(ctx, cfg.Studio.Addr, studio, a.reg, logger); err != nil {
				logger.Error("scrapewizard: studio", "error", err)
			}
		}()
		fmt.Fprintf(os.Stderr, "studio listening on http://%s (MCP at /mcp)\n", cfg.Studio.Addr)
	}

	if err := a.ctrl.Run(ctx, s); err != nil {
		fmt.Fprintf(os.Stderr, "stopped at %s (%s). Resume with: scrapewizard resume %s\n", s.Phase, wizard.ClassOf(err), s.ID)
		return err
	}
	printSession(s)
	if s.Outcome == wizard.OutcomeFailed {
		return errors.New("session failed: " + s.Reason)
	}
	return nil
}

func setup(o *options) (*wizard.Config, *slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(o.logLevel) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	cfg := wizard.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = wizard.LoadConfigFile(o.configPath); err != nil {
			return nil, nil, err
		}
	}
	cfg.CI = o.ci
	return cfg, logger, nil
}

func openStore(cfg *wizard.Config, logger *slog.Logger) (*store.Store, error) {
	var sealer *store.Sealer
	if key := os.Getenv(store.KeyEnv); key != "" {
		var err error
		if sealer, err = store.NewSealer(key); err != nil {
			return nil, err
		}
	} else {
		logger.Warn("scrapewizard: no sealing key, storage state will not be persisted", "env", store.KeyEnv)
	}
	sc := cfg.Store
	sc.Logger = logger
	return store.Open(sc, sealer)
}

func apiKey(provider string) string {
	if k := os.Getenv("SCRAPEWIZARD_API_KEY"); k != "" {
		return k
	}
	if provider == "gemini" {
		return os.Getenv("GEMINI_API_KEY")
	}
	return os.Getenv("OPENAI_API_KEY")
}

func wire(ctx context.Context, cfg *wizard.Config, o *options, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: logger, reg: prometheus.NewRegistry()}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	lc := cfg.LLM
	lc.APIKey = apiKey(lc.Provider)
	lc.Logger = logger
	completer, err := llm.New(ctx, lc)
	if err != nil {
		return nil, err
	}

	st, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)
	a.sessions = wizard.NewSQLStore(st)

	journal := st.NewJournal(256, time.Second)
	a.closers = append(a.closers, journal.Close)

	sinks := wizard.Multi{wizard.NewJournalSink(journal)}
	if o.expert {
		sinks = append(sinks, wizard.NewExpert(os.Stderr))
	}
	if cfg.Events.Prometheus || o.studio {
		sinks = append(sinks, wizard.NewMetrics(a.reg))
	}
	if cfg.Events.NATSURL != "" {
		ns, err := wizard.NewNATSSink(cfg.Events.NATSURL, cfg.Events.NATSSubject, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, ns)
		a.closers = append(a.closers, ns.Close)
	}
	if cfg.Events.WebhookURL != "" {
		wh, err := wizard.NewWebhookSink(wizard.WebhookConfig{
			URL:          cfg.Events.WebhookURL,
			Secret:       os.Getenv("SCRAPEWIZARD_WEBHOOK_SECRET"),
			Types:        cfg.Events.WebhookTypes,
			AllowPrivate: cfg.AllowPrivateHosts,
		}, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, wh)
		a.closers = append(a.closers, wh.Close)
	}

	var prompter wizard.Prompter = gate.NewTerminal(os.Stdin, os.Stderr)
	if o.studio {
		a.channel = gate.NewChannel(cfg.Gate.Timeout)
		prompter = a.channel
	}

	a.env = wizard.NewLive(cfg, logger)
	a.closers = append(a.closers, a.env.Close)

	a.ctrl = wizard.NewController(cfg, wizard.Deps{
		Env:       a.env,
		Analyzer:  analysis.New(completer, analysis.Config{Logger: logger}),
		Generator: codegen.New(completer, logger),
		Prompter:  prompter,
		Store:     a.sessions,
		Events:    sinks,
		Logger:    logger,
	})
	ok = true
	return a, nil
}

func serveStudio(ctx context.Context, addr string, studio *wizard.Studio, reg *prometheus.Registry, logger *slog.Logger) error {
	srv := mcp.NewServer(&mcp.Implementation{Name: "scrapewizard", Version: version}, nil)
	studio.RegisterMCP(srv)

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil))
	mux.Handle("/", studio.Handler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	hs := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hs.Shutdown(shutdownCtx)
	}()

	logger.Info("scrapewizard: studio listening", "addr", addr)
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func printSession(s *wizard.Session) {
	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintf(w, "session\t%s\n", s.ID)
	fmt.Fprintf(w, "url\t%s\n", s.URL)
	fmt.Fprintf(w, "phase\t%s\n", s.Phase)
	if s.Outcome != "" {
		fmt.Fprintf(w, "outcome\t%s\n", s.Outcome)
	}
	if s.Reason != "" {
		fmt.Fprintf(w, "reason\t%s\n", s.Reason)
	}
	if s.Profile != nil {
		fmt.Fprintf(w, "hostility\t%d (%s)\n", s.Profile.HostilityScore, s.AccessMode)
	}
	fmt.Fprintf(w, "repairs\t%d\n", len(s.Attempts))
	if s.Artifact != nil {
		fmt.Fprintf(w, "artifact\tv%d %s\n", s.Artifact.Version, s.Artifact.Hash)
	}
	if s.LastResult != nil {
		fmt.Fprintf(w, "records\t%d over %d pages (%.0f%% missing)\n", s.LastResult.RecordsExtracted, s.LastResult.PagesVisited, s.LastResult.MissingFieldRatio*100)
	}
	if s.BundleDir != "" {
		fmt.Fprintf(w, "bundle\t%s\n", s.BundleDir)
	}
	w.Flush()
}

func printEvents(ctx context.Context, sessions *wizard.SQLStore, id string, limit int) error {
	events, err := sessions.Events(ctx, id, limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "\nTIME\tPHASE\tEVENT\tFIELDS")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Time.Local().Format(time.TimeOnly), e.Phase, e.Type, e.Fields)
	}
	return w.Flush()
}
