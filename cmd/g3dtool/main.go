// g3dtool inspects and transforms G3D scene geometry stored in local files
// or behind HTTP servers that honor range requests.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"go.uber.org/zap"

	"github.com/Faultbox/vim-g3d/internal/config"
	"github.com/Faultbox/vim-g3d/internal/logger"
	"github.com/Faultbox/vim-g3d/pkg/g3d"
)

var errUsage = errors.New("usage")

func main() {
	config.ParseFlags()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	g3d.SetLogger(logger.Named("g3d"))

	args := config.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	t := &tool{cfg: cfg, out: os.Stdout}
	command, args := args[0], args[1:]
	switch command {
	case "info":
		err = t.info(ctx, args)
	case "slice":
		err = t.slice(ctx, args)
	case "filter":
		err = t.filter(ctx, args)
	case "split":
		err = t.split(ctx, args)
	case "build":
		err = t.build(ctx, args)
	case "probe":
		err = t.probe(ctx, args)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	if errors.Is(err, errUsage) {
		fmt.Fprintf(os.Stderr, "Usage: g3dtool %s\n", usage[command])
		os.Exit(1)
	}
	if err != nil {
		logger.Error("command failed", zap.String("command", command), zap.Error(err))
		os.Exit(1)
	}
}

var usage = map[string]string{
	"info":   "info <file|url>",
	"slice":  "slice <file|url> <instance> <out.g3d>",
	"filter": "filter <file|url> <out.g3d> <instance>...",
	"split":  "split <file|url> <prefix>",
	"build":  "build <prefix_index.g3d|url> <out.g3d> [instance]...",
	"probe":  "probe <url>",
}

func printUsage() {
	fmt.Println(`g3dtool - G3D scene geometry utility

Usage:
  g3dtool [flags] <command> [arguments]

Commands:
  info <file|url>                          Show buffer sizes and scene counts
  slice <file|url> <instance> <out.g3d>    Extract one instance and its mesh
  filter <file|url> <out.g3d> <instance>...
                                           Extract a set of instances
  split <file|url> <prefix>                Write a mesh index and one file per mesh
  build <index|url> <out.g3d> [instance]...
                                           Rebuild a scene from split mesh files
  probe <url>                              Check range support and encoding

Flags:
  -config, -debug, -log-file, -concurrency, -retry-delay, -timeout,
  -section, -merge, -mesh-url

Examples:
  g3dtool info scene.g3d
  g3dtool -concurrency 4 slice https://example.com/scene.g3d 12 one.g3d
  g3dtool split scene.g3d out/scene
  g3dtool -merge -section opaque build out/scene_index.g3d merged.g3d`)
}

func parseInstances(args []string) ([]int, error) {
	ids := make([]int, len(args))
	for i, a := range args {
		id, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("instance %q: %w", a, err)
		}
		ids[i] = id
	}
	return ids, nil
}
