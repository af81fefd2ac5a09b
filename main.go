// streamd daemon entry point
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/fernlabs/streamd/internal/config"
	"github.com/fernlabs/streamd/internal/daemon"
	"github.com/fernlabs/streamd/internal/engine"
	"github.com/fernlabs/streamd/internal/mcp"
	"github.com/fernlabs/streamd/internal/provider"
	"github.com/fernlabs/streamd/internal/tools"
)

var version = "dev"

func init() {
	if version != "dev" {
		return
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		version = info.Main.Version
	}
}

func main() {
	versionFlag := flag.Bool("version", false, "Print version and exit")
	portFlag := flag.Int("port", 4810, "Port to listen on (falls back to an OS-assigned port if taken)")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("streamd %s\n", version)
		return
	}

	prefs := config.LoadPreferences()
	log, closeLog := config.NewLogger(prefs)
	defer closeLog()

	anthropicKey, err := config.AnthropicAPIKey(prefs)
	if err != nil {
		log.Fatal().Err(err).Msg("startup")
	}
	perplexityKey := config.PerplexityAPIKey(prefs)
	if perplexityKey == "" {
		log.Warn().Msg("no Perplexity API key configured; sonar models will fail")
	}

	// Connect configured MCP servers before building the catalog so their
	// tools are offered from the first session.
	mgr := mcp.NewManager(log)
	cwd, _ := os.Getwd()
	if mcpCfg, err := mcp.LoadMCPConfig(cwd); err != nil {
		log.Warn().Err(err).Msg("mcp config")
	} else if len(mcpCfg.MCPServers) > 0 {
		if err := mgr.StartAll(context.Background(), mcpCfg); err != nil {
			log.Warn().Err(err).Msg("mcp startup")
		}
		if names := mgr.ToolNames(); len(names) > 0 {
			log.Info().Strs("tools", names).Msg("external tools ready")
		}
	}

	runner := &tools.Runner{
		BraveAPIKey: config.BraveAPIKey(prefs),
		External:    mgr,
	}
	catalog := tools.Catalog{
		Client:   []provider.ToolSpec{tools.WebSearchSpec(), tools.CreateCanvasSpec()},
		Server:   []provider.ServerToolSpec{tools.WebFetchServerSpec()},
		External: mgr.ToolSpecs(),
	}

	eng := engine.New(
		&provider.AnthropicClient{APIKey: anthropicKey},
		&provider.PerplexityClient{APIKey: perplexityKey},
		runner,
		catalog,
		log,
	)

	srv := daemon.NewServer(eng, log)
	srv.MCPStatus = mgr.ServerStatuses

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		mgr.StopAll()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	}()

	if err := srv.Start(*portFlag); err != nil {
		log.Fatal().Err(err).Msg("server")
	}
}
