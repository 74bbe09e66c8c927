package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/danmuck/holoctl/internal/config"
	"github.com/danmuck/holoctl/internal/engine"
	"github.com/danmuck/holoctl/internal/logging"
	"github.com/danmuck/holoctl/internal/observability"
	"github.com/danmuck/holoctl/internal/schema"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "cmd/holosim/config.toml", "engine config path")
	flag.Parse()

	logging.ConfigureRuntime()
	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "holosim: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	fileCfg, err := config.LoadEngineConfig(configPath)
	if err != nil {
		return err
	}
	srvCfg, err := config.EngineServerConfig(fileCfg)
	if err != nil {
		return err
	}
	schemaPath := fileCfg.SchemaPath
	if !filepath.IsAbs(schemaPath) {
		schemaPath = filepath.Join(filepath.Dir(configPath), schemaPath)
	}
	source, err := schema.LoadFile(schemaPath)
	if err != nil {
		return err
	}
	observability.RegisterMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := engine.NewServer(srvCfg, source)
	addr, err := srv.Listen()
	if err != nil {
		return err
	}
	log.Info().
		Str("addr", addr.String()).
		Str("name", srvCfg.Name).
		Int("schema_rows", source.RowCount()).
		Strs("commands", srv.Registry().Names()).
		Msg("holosim: serving")
	return srv.Serve(ctx)
}
