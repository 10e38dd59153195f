package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/invopop/jsonschema"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"posync/client"
	"posync/server"
)

var CLI struct {
	Debug bool `help:"Whether to enable debug logging." env:"POSYNC_DEBUG"`

	Serve struct {
		Configs      []string      `arg:"" optional:"" name:"configs" help:"Configuration files (.yaml, .toml, .json), applied in order." type:"existingfile"`
		TCPAddr      string        `name:"tcp-addr" help:"TCP listen address." env:"POSYNC_TCP_ADDR"`
		HTTPAddr     string        `name:"http-addr" help:"WebSocket and admin listen address." env:"POSYNC_HTTP_ADDR"`
		TickInterval time.Duration `name:"tick-interval" help:"Interval between authoritative ticks." env:"POSYNC_TICK_INTERVAL"`
		Framing      string        `help:"Stream framing: raw or lines." env:"POSYNC_FRAMING"`
		LogFile      string        `name:"log-file" help:"Rotating log file." env:"POSYNC_LOG_FILE"`
	} `cmd:"" default:"withargs" help:"Start the position sync server."`

	Client struct {
		Connect  string        `short:"c" placeholder:"HOST:PORT" default:"127.0.0.1:9132" help:"Connect to a posync server."`
		Count    int           `default:"10" help:"Number of position updates to send."`
		Interval time.Duration `default:"1s" help:"Delay between updates."`
		Framing  string        `default:"raw" enum:"raw,lines" help:"Stream framing: raw or lines."`
	} `cmd:"" help:"Send random positions to a server and print the snapshots it broadcasts."`

	Config struct {
	} `cmd:"" help:"Write the default configuration to standard output."`

	Schema struct {
	} `cmd:"" help:"Write the configuration JSON schema to standard output."`
}

func writeError(err error) {
	fmt.Fprintf(os.Stderr, "%s\n", err)
	os.Exit(1)
}

func main() {
	// .env 可选，用于提供 POSYNC_* 环境变量
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		writeError(err)
	}

	ctx := kong.Parse(&CLI,
		kong.Name("posync"),
		kong.Description("a tick-based multiplayer position sync server"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	var err error
	switch ctx.Command() {
	case "serve", "serve <configs>":
		err = serveCommand()
	case "client":
		err = clientCommand()
	case "config":
		err = configCommand()
	case "schema":
		err = schemaCommand()
	}
	if err != nil {
		writeError(err)
	}
}

// applyFlags 命令行/环境变量仅在显式设置时覆盖配置文件
func applyFlags(cfg *server.Config) {
	flags := CLI.Serve
	if flags.TCPAddr != "" {
		cfg.TCPAddr = flags.TCPAddr
	}
	if flags.HTTPAddr != "" {
		cfg.HTTPAddr = flags.HTTPAddr
	}
	if flags.TickInterval > 0 {
		cfg.TickIntervalMs = int(flags.TickInterval / time.Millisecond)
	}
	if flags.Framing != "" {
		cfg.Framing = server.Framing(flags.Framing)
	}
	if flags.LogFile != "" {
		cfg.Log.File = flags.LogFile
	}
	if CLI.Debug {
		cfg.Log.Level = "debug"
	}
}

func serveCommand() error {
	cfg, err := server.LoadConfig(CLI.Serve.Configs...)
	if err != nil {
		return err
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	// 使用 zap 日志写入滚动文件
	if err := server.InitLogger(cfg.Log); err != nil {
		return err
	}
	defer server.SyncLogger()

	// 优雅退出（Ctrl+C）
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := server.NewEngine(*cfg)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return engine.Run(ctx)
	})

	if cfg.TCPAddr != "" {
		ln, err := net.Listen("tcp", cfg.TCPAddr)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return engine.Serve(ctx, ln)
		})
	}

	if cfg.HTTPAddr != "" {
		srv := &http.Server{
			Addr:        cfg.HTTPAddr,
			Handler:     engine.Routes(),
			BaseContext: func(net.Listener) context.Context { return ctx },
		}
		g.Go(func() error {
			server.Log.Infof("http listening on %s (ws endpoint: /ws)", cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	server.Log.Info("Shutting down...")
	engine.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func clientCommand() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	fmt.Printf("Connecting to %s\n", CLI.Client.Connect)
	return client.Run(ctx, client.Options{
		Addr:     CLI.Client.Connect,
		Count:    CLI.Client.Count,
		Interval: CLI.Client.Interval,
		Framing:  server.Framing(CLI.Client.Framing),
		Out:      os.Stdout,
	})
}

func configCommand() error {
	b, err := server.DefaultConfig().YAML()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(b)
	return err
}

func schemaCommand() error {
	schema := jsonschema.Reflect(&server.Config{})
	b, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(os.Stdout, "%s\n", b)
	return err
}
