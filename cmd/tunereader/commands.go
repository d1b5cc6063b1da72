package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ruturajsinh-rathod/TuneReader/internal/cache"
	"github.com/ruturajsinh-rathod/TuneReader/internal/exec"
	"github.com/ruturajsinh-rathod/TuneReader/internal/pipeline"
	"github.com/ruturajsinh-rathod/TuneReader/internal/server"
)

func runServe(cmd *cobra.Command, args []string) error {
	p, err := pipelineConfig(cmd)
	if err != nil {
		return err
	}

	scfg := server.DefaultConfig(p)
	if cfg.Server.Addr != "" {
		scfg.Addr = cfg.Server.Addr
	}
	if cfg.Server.MaxUploadMB > 0 {
		scfg.MaxUploadBytes = cfg.Server.MaxUploadMB << 20
	}
	if cfg.Server.MaxJobs > 0 {
		scfg.MaxJobs = cfg.Server.MaxJobs
	}
	if addr != "" {
		scfg.Addr = addr
	}
	if maxJobs > 0 {
		scfg.MaxJobs = maxJobs
	}
	scfg.JobsDir = jobsDir
	if p.UseCache {
		if c, err := cache.New(p.CacheDir); err == nil {
			scfg.Cache = c
		}
	}

	srv, err := server.New(scfg, nil)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	return srv.Run(context.Background())
}

// check is one line of the doctor report
type check struct {
	Name     string
	Path     string
	Found    string
	Err      error
	Optional bool
}

func (c check) ok() bool { return c.Err == nil }

// checkDependencies resolves every configured tool and the soundfont
func checkDependencies(p pipeline.Config, resolve func(string) (string, error)) []check {
	tools := []check{
		{Name: "audiveris", Path: p.AudiverisPath},
		{Name: "musescore", Path: p.MuseScorePath, Optional: true},
		{Name: "fluidsynth", Path: p.FluidSynthPath},
		{Name: "ffmpeg", Path: p.FFmpegPath},
	}
	if p.PdftoppmPath != "" {
		tools = append(tools, check{Name: "pdftoppm", Path: p.PdftoppmPath, Optional: true})
	}
	for i := range tools {
		tools[i].Found, tools[i].Err = resolve(tools[i].Path)
	}

	sf := check{Name: "soundfont", Path: p.Soundfont, Found: p.Soundfont}
	switch info, err := os.Stat(p.Soundfont); {
	case p.Soundfont == "":
		sf.Err = fmt.Errorf("not configured")
	case err != nil:
		sf.Err = err
	case info.IsDir() || info.Size() == 0:
		sf.Err = fmt.Errorf("not a soundfont file")
	}
	return append(tools, sf)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	p, err := pipelineConfig(cmd)
	if err != nil {
		return err
	}

	checks := checkDependencies(p, exec.Resolve)
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	missing := 0
	for _, c := range checks {
		switch {
		case c.ok():
			fmt.Fprintf(tw, "  ✓\t%s\t%s\n", c.Name, c.Found)
		case c.Optional:
			fmt.Fprintf(tw, "  -\t%s\t%s (optional: %v)\n", c.Name, c.Path, c.Err)
		default:
			missing++
			fmt.Fprintf(tw, "  ✗\t%s\t%s (%v)\n", c.Name, c.Path, c.Err)
		}
	}
	tw.Flush()

	if missing > 0 {
		return fmt.Errorf("missing required dependencies: %d", missing)
	}
	fmt.Println("\nAll required dependencies found.")
	return nil
}

func openCache() (*cache.Cache, error) {
	p, err := cfg.Pipeline()
	if err != nil {
		return nil, err
	}
	return cache.New(p.CacheDir)
}

func runCacheList(cmd *cobra.Command, args []string) error {
	c, err := openCache()
	if err != nil {
		return err
	}
	entries, err := c.List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("Cache is empty.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tTITLE\tFORMAT\tCACHED\tSOURCE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Key, e.Title, e.Format, e.CachedAt.Format(time.DateTime), e.Source)
	}
	tw.Flush()

	if size, n, err := c.Size(); err == nil {
		fmt.Printf("\n%d conversion(s), %.1f MB in %s\n", n, float64(size)/(1<<20), c.Dir())
	}
	return nil
}

func runCacheRemove(cmd *cobra.Command, args []string) error {
	c, err := openCache()
	if err != nil {
		return err
	}
	for _, key := range args {
		if _, ok := c.Get(key); !ok {
			fmt.Printf("%s: not cached\n", key)
			continue
		}
		if err := c.Remove(key); err != nil {
			return fmt.Errorf("remove %s: %w", key, err)
		}
		fmt.Printf("Removed %s\n", key)
	}
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	c, err := openCache()
	if err != nil {
		return err
	}
	if err := c.Clear(); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	fmt.Printf("Cleared %s\n", c.Dir())
	return nil
}

func parseTimeout(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return d, nil
}
