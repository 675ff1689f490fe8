// Command channelctl is a demo CLI over the channel content engine: it
// opens a channel by id under a root data directory, runs one refresh cycle
// or prints cache status, and tears down cleanly.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"

	"github.com/driftframe/channelengine/cache"
	"github.com/driftframe/channelengine/catalog"
	"github.com/driftframe/channelengine/channel"
	"github.com/driftframe/channelengine/clog"
	"github.com/driftframe/channelengine/config"
	"github.com/driftframe/channelengine/downloader"
	"github.com/driftframe/channelengine/eventbus"
	"github.com/driftframe/channelengine/gc"
	"github.com/driftframe/channelengine/navigator"
	"github.com/driftframe/channelengine/progress"
	"github.com/driftframe/channelengine/registry"
)

func main() {
	conf := config.DefaultConfig()
	if root := os.Getenv("CHANNELENGINE_ROOT"); root != "" {
		conf.RootDir = root
	}
	if err := clog.Setup(conf.LogLevel, nil); err != nil {
		fatalf("setup logging: %v", err)
	}

	if len(os.Args) < 2 {
		usage()
	}

	ctx := context.Background()
	channelsDir := filepath.Join(conf.RootDir, "channels")
	vaultDir := filepath.Join(conf.RootDir, "vault")

	switch os.Args[1] {
	case "status":
		cmdStatus(ctx, channelsDir, vaultDir, os.Args[2:])
	case "refresh":
		cmdRefresh(ctx, conf, channelsDir, vaultDir, os.Args[2:])
	case "ls":
		cmdList(channelsDir)
	case "gc":
		cmdGC(ctx, channelsDir, vaultDir)
	default:
		fatalf("unknown command: %s", os.Args[1])
	}
}

func cmdStatus(ctx context.Context, channelsDir, vaultDir string, args []string) {
	if len(args) == 0 {
		fatalf("usage: channelctl status <channel-id>")
	}
	channelID := args[0]

	c, err := cache.Open(ctx, channelID, channelsDir, vaultDir)
	if err != nil {
		fatalf("open channel %s: %v", channelID, err)
	}

	fmt.Printf("channel:    %s\n", channelID)
	fmt.Printf("entries:    %d\n", c.Len())
	fmt.Printf("local:      %d\n", c.LAiLen())
	fmt.Printf("dirty:      %v\n", c.Dirty())
}

func cmdRefresh(ctx context.Context, conf *config.Config, channelsDir, vaultDir string, args []string) {
	if len(args) < 2 {
		fatalf("usage: channelctl refresh <channel-id> <remote-base-url>")
	}
	channelID, baseURL := args[0], args[1]

	bus := eventbus.New()
	reg := registry.New(bus, registry.DefaultCapacity, conf.FlushDebounce)
	remote := catalog.NewHTTPRemote(baseURL, 30*time.Second)

	tracker := progress.NewTracker(func(e downloader.Event) {
		if e.Err != nil {
			fmt.Printf("download failed: post %d: %v\n", e.PostID, e.Err)
			return
		}
		fmt.Printf("downloaded: post %d (%d bytes)\n", e.PostID, e.Bytes)
	})

	ch, err := channel.Open(ctx, channelID, channel.Deps{
		ChannelsDir: channelsDir,
		VaultDir:    vaultDir,
		PoolSize:    conf.PoolSize,
		Registry:    reg,
		Bus:         bus,
		Remote:      remote,
		Tracker:     tracker,
		PipelineConfig: catalog.PipelineConfig{
			BatchSize:         32,
			PE:                conf.PlaylistExpansion,
			ReconcileCap:      conf.MaxLocalArtworks,
			CountEvictCap:     conf.MaxLocalArtworks,
			CountEvictBatch:   32,
			SpaceEvictBatch:   16,
			FreeSpaceReserve:  conf.FreeSpaceReserveBytes,
			RefreshInterval:   conf.RefreshInterval,
			BackpressureWait:  60 * time.Second,
			BackpressureSleep: 2 * time.Second,
		},
		NavigatorConfig: navigator.Config{
			Mode:          navigator.OrderServer,
			PE:            conf.PlaylistExpansion,
			GlobalSeed:    conf.GlobalSeed,
			EffectiveSeed: conf.EffectiveSeed,
			LiveMode:      conf.LiveMode,
		},
		ChannelEpoch: time.Now().Unix(),
	})
	if err != nil {
		fatalf("open channel %s: %v", channelID, err)
	}

	bus.Set(eventbus.MqttConnected | eventbus.SDAvailable | eventbus.WifiConnected)

	if err := ch.RunRefreshOnce(ctx); err != nil {
		fatalf("refresh %s: %v", channelID, err)
	}

	reg.FlushDirty(ctx)
	ch.Close(ctx)
	fmt.Printf("refreshed %s: %d entries, %d local\n", channelID, ch.Cache().Len(), ch.Cache().LAiLen())
}

// cmdGC loads every channel's cache read-only, registers them, and runs the
// vault GC module to remove artwork files no longer referenced by any of
// them.
func cmdGC(ctx context.Context, channelsDir, vaultDir string) {
	entries, err := os.ReadDir(channelsDir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No channels found.")
			return
		}
		fatalf("list channels: %v", err)
	}

	bus := eventbus.New()
	reg := registry.New(bus, len(entries)+1, time.Hour)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".cache" {
			continue
		}
		channelID := e.Name()[:len(e.Name())-len(".cache")]
		c, err := cache.Open(ctx, channelID, channelsDir, vaultDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skip %s: %v\n", channelID, err)
			continue
		}
		if err := reg.Register(c); err != nil {
			fmt.Fprintf(os.Stderr, "skip %s: %v\n", channelID, err)
		}
	}

	orch := gc.New()
	gc.Register(orch, registry.NewVaultGC(reg, vaultDir))
	if err := orch.Run(ctx); err != nil {
		fatalf("gc: %v", err)
	}
	fmt.Println("gc complete")
}

func cmdList(channelsDir string) {
	entries, err := os.ReadDir(channelsDir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No channels found.")
			return
		}
		fatalf("list channels: %v", err)
	}

	type row struct {
		id   string
		size int64
		mod  time.Time
	}
	var rows []row
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".cache" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		rows = append(rows, row{id: e.Name()[:len(e.Name())-len(".cache")], size: info.Size(), mod: info.ModTime()})
	}
	if len(rows) == 0 {
		fmt.Println("No channels found.")
		return
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].mod.After(rows[j].mod) })

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHANNEL\tCACHE SIZE\tLAST SAVED")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.id, units.HumanSize(float64(r.size)), r.mod.Format(time.RFC3339))
	}
	w.Flush() //nolint:errcheck
}

func usage() {
	fmt.Fprintf(os.Stderr, `channelctl - channel content engine CLI

Usage: channelctl <command> [arguments]

Environment:
  CHANNELENGINE_ROOT   Root data directory (default: %s)

Commands:
  status <channel-id>                    Print cache status for a channel
  refresh <channel-id> <remote-base-url>  Run one refresh cycle against a remote
  ls                                      List channels with on-disk cache files
  gc                                      Remove vault artwork unreferenced by any channel
`, config.DefaultConfig().RootDir)
	os.Exit(1)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
