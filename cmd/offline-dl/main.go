package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/handiism/offline-regions/internal/app"
	"github.com/handiism/offline-regions/internal/config"
	"github.com/handiism/offline-regions/internal/download"
	"github.com/handiism/offline-regions/internal/logging"
	"github.com/handiism/offline-regions/internal/model"
)

func usage() {
	fmt.Println("Offline Regions - Cache map tiles for offline use")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  offline-dl download --name <name> [options]")
	fmt.Println("  offline-dl list [options]")
	fmt.Println("  offline-dl delete --name <name> [options]")
	fmt.Println()
	fmt.Println("Run a command with --help for its options.")
	fmt.Println("For interactive mode, use: offline-tui")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// Handle interrupts
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "download":
		err = runDownload(ctx, os.Args[2:])
	case "list":
		err = runList(ctx, os.Args[2:])
	case "delete":
		err = runDelete(ctx, os.Args[2:])
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		if ctx.Err() != nil {
			fmt.Println("\nInterrupted. Tiles fetched so far stay cached.")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// commonFlags are accepted by every command.
type commonFlags struct {
	configPath string
	storeURL   string
	verbose    bool
}

func (c *commonFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "path to a JSON or TOML config file")
	fs.StringVar(&c.storeURL, "store", "", "bucket URL for cached regions (overrides config)")
	fs.BoolVarP(&c.verbose, "verbose", "v", false, "log debug output")
}

// open loads settings and wires the app.
func (c *commonFlags) open(ctx context.Context) (*app.App, error) {
	settings := config.DefaultSettings()
	if c.configPath != "" {
		var err error
		settings, err = config.Load(c.configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	}
	if c.storeURL != "" {
		settings.StoreURL = c.storeURL
	}

	level := settings.LogLevel
	if c.verbose {
		level = "debug"
	}
	logger := logging.New("offline-dl", logging.Config{Level: level, Console: true})

	return app.Open(ctx, settings, logger)
}

func runDownload(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("download", pflag.ExitOnError)
	var common commonFlags
	common.register(fs)
	name := fs.String("name", "", "name of the new region (required)")
	var region regionFlags
	region.register(fs, config.DefaultSettings().DefaultDefinition())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return errors.New("--name is required")
	}

	a, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	def, err := region.build(fs, a.Settings.DefaultDefinition())
	if err != nil {
		return err
	}

	fmt.Println("🗺️  Offline Regions")
	fmt.Printf("Region %q: %d tiles across zooms %g..%g\n", *name, def.TileCount(), def.MinZoom, def.MaxZoom)
	if limit := a.Settings.TileLimit; limit > 0 && def.TileCount() > limit {
		fmt.Printf("⚠️  Only the first %d tiles will be cached\n", limit)
	}
	fmt.Println()

	sub := a.Orchestrator.Subscribe()
	defer sub.Close()

	a.Orchestrator.Execute(ctx, *name, def)

	return follow(ctx, sub)
}

// follow prints events until the download terminates.
func follow(ctx context.Context, sub *download.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return errors.New("event stream closed")
			}
			switch ev := ev.(type) {
			case model.Downloading:
				fmt.Printf("\r📥 %s %3d%%", ev.RegionName, ev.Percent)
			case model.TileCountLimitExceeded:
				fmt.Printf("\n⚠️  Tile count limit of %d exceeded, the region will be incomplete\n", ev.Limit)
			case model.Done:
				fmt.Printf("\n✅ %s is available offline\n", ev.RegionName)
				return nil
			case model.Failed:
				fmt.Println()
				return ev.Cause
			}
		}
	}
}

func runList(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("list", pflag.ExitOnError)
	var common commonFlags
	common.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.Catalog.Entries(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No offline regions.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tZOOMS\tTILES")
	for _, e := range entries {
		def := e.Region.Definition
		fmt.Fprintf(w, "%d\t%s\t%g..%g\t%d\n", e.Region.ID, e.Name, def.MinZoom, def.MaxZoom, def.TileCount())
	}
	return w.Flush()
}

func runDelete(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("delete", pflag.ExitOnError)
	var common commonFlags
	common.register(fs)
	name := fs.String("name", "", "name of the region to delete (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return errors.New("--name is required")
	}

	a, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Deleter.DeleteByName(ctx, *name); err != nil {
		return err
	}
	fmt.Printf("🗑️  Deleted %q\n", *name)
	return nil
}
