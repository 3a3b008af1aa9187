package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jdginn/showctl/backend"
	"github.com/jdginn/showctl/config"
	"github.com/jdginn/showctl/engine"
	"github.com/jdginn/showctl/logging"
	"github.com/jdginn/showctl/osc"
	"github.com/jdginn/showctl/router"
	"github.com/jdginn/showctl/web"
)

// ServeOptions holds flags for the serve command. Set flags win over file and environment.
type ServeOptions struct {
	*RootOptions
	Port    int
	APIURL  string
	PushURL string
	Web     string
	UserID  string
	Event   string
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the OSC bridge",
		Long: `Run the OSC bridge.

Listens for OSC commands on UDP, replies to the sender, and keeps the backend in sync.
Exits with status 2 if the OSC port cannot be bound.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.RootOptions)
			if err != nil {
				return err
			}
			opts.apply(cmd, cfg)
			cfg.Normalize()
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, opts.Event)
		},
	}

	cmd.Flags().IntVarP(&opts.Port, "port", "p", 0, "UDP port for OSC commands")
	cmd.Flags().StringVar(&opts.APIURL, "api-url", "", "base URL of the run-of-show API")
	cmd.Flags().StringVar(&opts.PushURL, "push-url", "", "websocket URL of the push channel")
	cmd.Flags().StringVar(&opts.Web, "web", "", "listen address of the status page")
	cmd.Flags().StringVar(&opts.UserID, "user-id", "", "user id sent with mutations")
	cmd.Flags().StringVar(&opts.Event, "event", "", "event to load at startup")

	return cmd
}

func (o *ServeOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.OSC.Port = o.Port
	}
	if flags.Changed("api-url") {
		cfg.Backend.BaseURL = o.APIURL
	}
	if flags.Changed("push-url") {
		cfg.Backend.PushURL = o.PushURL
	}
	if flags.Changed("web") {
		cfg.Web.Listen = o.Web
	}
	if flags.Changed("user-id") {
		cfg.Backend.UserID = o.UserID
	}
}

// serve wires every component and blocks until ctx is cancelled or one of them fails.
func serve(ctx context.Context, cfg *config.Config, eventID string) error {
	if err := logging.Configure(cfg.Logging); err != nil {
		return err
	}
	log := logging.Get(logging.APP)

	client := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.RequestTimeout)
	eng := engine.New(client, cfg.EngineOptions())

	srv := &osc.Server{
		Addr:        cfg.OSC.Addr(),
		ReadTimeout: cfg.OSC.ReadTimeout,
		Queue:       osc.NewQueue(cfg.OSC.QueueSize),
	}
	if err := srv.Listen(); err != nil {
		return err
	}
	defer srv.Close()

	rt := router.New(eng, srv)
	rt.Workers = cfg.OSC.Workers

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errc := make(chan error, 8)
	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				log.Error("component failed", "component", name, "err", err)
				errc <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}

	run("engine", func() error { return eng.Run(ctx) })
	run("osc", func() error { return srv.Serve(ctx) })
	run("router", func() error {
		rt.Run(ctx, srv.Queue)
		return nil
	})

	if cfg.Backend.PushURL != "" {
		pc := backend.NewPushClient(cfg.Backend.PushURL, eng)
		notes, unsubscribe, err := eng.Subscribe(ctx)
		if err != nil {
			cancel()
			wg.Wait()
			return err
		}
		defer unsubscribe()
		run("push", func() error { return pc.Run(ctx) })
		go pc.Follow(notes)
	}

	if cfg.Web.Listen != "" {
		ws := web.New(cfg.Web.Listen, eng)
		ws.Version = Version
		run("web", func() error { return ws.Run(ctx) })
	}

	go func() {
		if err := client.Ping(ctx); err != nil && ctx.Err() == nil {
			log.Warn("backend not reachable, commands will fail until it is", "url", cfg.Backend.BaseURL, "err", err)
		}
	}()

	if eventID != "" {
		go func() {
			if err := eng.LoadEvent(ctx, eventID); err != nil && ctx.Err() == nil {
				log.Error("initial event not loaded", "event", eventID, "err", err)
			}
		}()
	}

	log.Info("showctl running",
		"version", Version,
		"osc", srv.LocalAddr().String(),
		"api", cfg.Backend.BaseURL,
		"push", cfg.Backend.PushURL,
		"web", cfg.Web.Listen,
	)

	<-ctx.Done()
	log.Info("shutting down")
	wg.Wait()
	close(errc)
	return <-errc
}
