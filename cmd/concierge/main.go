// Command concierge runs the assistant as an HTTP service or answers a single
// question from the terminal.
//
// Usage:
//
//	concierge serve --config concierge.yaml
//	concierge ask --session s1 "What is the weather in Oslo?"
//	concierge validate --config concierge.yaml
//	concierge version
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	jsoniter "github.com/json-iterator/go"

	"github.com/hupe1980/concierge"
	"github.com/hupe1980/concierge/config"
	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/server"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CLI defines the command-line interface.
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP server."`
	Ask      AskCmd      `cmd:"" help:"Ask one question and stream the answer."`
	Validate ValidateCmd `cmd:"" help:"Validate the configuration."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config   string `short:"c" help:"Path to a YAML config file." type:"path"`
	Provider string `help:"Override the model provider (offline, openai, anthropic, gemini)."`
	LogLevel string `help:"Override the log level (debug, info, warn, error)."`
}

// load reads the config file and applies CLI overrides.
func (c *CLI) load() (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	if c.Provider != "" {
		cfg.Model.Provider = c.Provider
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}
	return cfg, cfg.Validate()
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Addr string `help:"Listen address (overrides server.addr)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := cli.load()
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.Server.Addr = c.Addr
	}

	app, err := concierge.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := app.Close(shutdownCtx); err != nil {
			app.Logger.Error("concierge.close.failed", "error", err.Error())
		}
	}()

	srv, err := server.New(app.Engine, app.Store, func(o *server.Options) {
		o.Addr = cfg.Server.Addr
		o.ReadHeaderTimeout = cfg.Server.ReadHeaderTimeout
		o.ShutdownTimeout = cfg.Server.ShutdownTimeout
		o.AllowedOrigins = cfg.Server.AllowedOrigins
		if app.Metrics != nil {
			o.Metrics = app.Metrics.Handler()
		}
		o.Tracer = app.Tracer()
		o.Logger = app.Logger
	})
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx)
}

// AskCmd answers one question on the terminal.
type AskCmd struct {
	Session  string   `short:"s" help:"Session id." default:"cli"`
	JSON     bool     `name:"json" help:"Print raw events as JSON lines."`
	Question []string `arg:"" help:"The question."`

	out    io.Writer
	errOut io.Writer
}

func (c *AskCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := cli.load()
	if err != nil {
		return err
	}
	cfg.Metrics.Enabled = false

	app, err := concierge.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close(context.Background()) }()

	return c.ask(ctx, app)
}

func (c *AskCmd) ask(ctx context.Context, app *concierge.Concierge) error {
	out, errOut := c.out, c.errOut
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}

	_, events, err := app.Engine.StreamTurn(ctx, c.Session, strings.Join(c.Question, " "))
	if err != nil {
		return err
	}

	var failure *core.TurnError
	streamed := false
	for ev := range events {
		if c.JSON {
			line, err := json.MarshalToString(ev)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, line)
		}
		switch ev.Type {
		case core.EventToken:
			streamed = true
			if !c.JSON {
				fmt.Fprint(out, ev.Content)
			}
		case core.EventDelegationStarted:
			if !c.JSON {
				fmt.Fprintf(errOut, "-> %s: %s\n", ev.Worker, ev.Request)
			}
		case core.EventDelegationFinished:
			if !c.JSON {
				fmt.Fprintf(errOut, "<- %s (%s)\n", ev.Worker, ev.Status)
			}
		case core.EventTurnError:
			failure = &core.TurnError{Kind: core.KindFromCode(ev.Code), Op: "ask", Err: fmt.Errorf("%s", ev.Message)}
		case core.EventTurnDone:
			if !c.JSON && !ev.Partial {
				if !streamed {
					fmt.Fprint(out, ev.Response)
				}
				fmt.Fprintln(out)
			}
		}
	}
	if failure != nil {
		return failure
	}
	return nil
}

// ValidateCmd loads and validates the configuration.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}
	fmt.Printf("configuration is valid (provider %s, session backend %s)\n", cfg.Model.Provider, cfg.Session.Backend)
	return nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("concierge version %s\n", version())
	return nil
}

func version() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			return info.Main.Version
		}
	}
	return "dev"
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("concierge"),
		kong.Description("Concierge - a supervisor/worker assistant backend"),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
