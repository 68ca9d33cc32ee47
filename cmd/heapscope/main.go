package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/heapscope/heapscope/internal/cli"
	"github.com/heapscope/heapscope/internal/location"
	"github.com/heapscope/heapscope/internal/pipeline"
	"github.com/heapscope/heapscope/internal/watch"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version information")
		showHelp    = flag.Bool("help", false, "show help information")
		jsonOutput  = flag.Bool("json", false, "output version in JSON format")
		traceFile   = flag.String("trace", "", "trace file to analyze")
		watchDir    = flag.String("watch", "", "watch a spool directory and analyze traces as they change")
		outputDir   = flag.String("out", "", "output directory (default: <trace name> without extension; with --watch, the config output_dir, \".\" if unset)")
		sourceMap   = flag.String("sourcemap", "", "source map sidecar for resolving locations")
		configFile  = flag.String("config", "", "JSON config file")
		verbose     = flag.Bool("verbose", false, "verbose output")
		debug       = flag.Bool("debug", false, "debug output")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Heapscope object-lifetime analyzer.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nOUTPUTS (per run, under the output directory):\n")
		fmt.Fprintf(os.Stderr, "  %-18s per-object lifetime records, one JSON array per line\n", pipeline.ObjectsFile)
		fmt.Fprintf(os.Stderr, "  %-18s last-use records, 20-byte big-endian, time-ordered\n", pipeline.LastUseFile)
		fmt.Fprintf(os.Stderr, "  %-18s unreachability records, 20-byte big-endian, time-ordered\n", pipeline.UnreachableFile)
		fmt.Fprintf(os.Stderr, "  %-18s allocation-site updates, 12-byte big-endian\n", pipeline.UpdateIIDFile)
		fmt.Fprintf(os.Stderr, "\nEXAMPLES:\n")
		fmt.Fprintf(os.Stderr, "  %s --trace run.trace                      # Analyze one trace\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --trace run.trace --sourcemap run.map  # Resolve script paths\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --watch ./spool --out ./analyzed       # Re-analyze on change\n", os.Args[0])
	}

	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if *showVersion {
		cli.PrintVersion("Heapscope Lifetime Analyzer", *jsonOutput)
		os.Exit(0)
	}

	cfg, err := cli.LoadConfig(*configFile)
	if err != nil {
		cli.ExitWithError("%v", err)
	}
	if *sourceMap == "" {
		*sourceMap = cfg.SourceMap
	}
	logger := cli.NewLogger(*verbose || cfg.Verbose, *debug || cfg.Debug)

	reg, err := loadRegistry(*sourceMap)
	if err != nil {
		cli.ExitWithError("%v", err)
	}

	switch {
	case *watchDir != "":
		outDir := *outputDir
		if outDir == "" {
			outDir = cfg.OutputDir
		}
		if err := watchLoop(*watchDir, outDir, reg, logger); err != nil && err != context.Canceled {
			cli.ExitWithError("watch failed: %v", err)
		}
	case *traceFile != "":
		outDir := *outputDir
		if outDir == "" {
			outDir = strings.TrimSuffix(*traceFile, filepath.Ext(*traceFile))
		}
		logger.Info("analyzing %s into %s", *traceFile, outDir)
		sum, err := pipeline.RunFile(*traceFile, reg, outDir)
		if err != nil {
			cli.ExitWithError("analysis failed: %v", err)
		}
		report(outDir, sum)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func loadRegistry(path string) (location.Registry, error) {
	if path == "" {
		return location.NewTable(), nil
	}
	return location.LoadTable(path)
}

func watchLoop(dir, outDir string, reg location.Registry, logger *cli.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Watching %s for traces, output under %s\n", dir, outDir)
	fmt.Printf("Press Ctrl+C to stop\n")

	r := &watch.Runner{
		Reg:    reg,
		OutDir: outDir,
		OnRun: func(trace string, sum *pipeline.Summary, err error) {
			if err != nil {
				logger.Error("%s: %v", trace, err)
				return
			}
			logger.Info("%s: %d objects, %d bytes", trace, sum.ObjectRecords, sum.TotalBytes)
		},
	}
	err := r.Watch(ctx, dir)
	if ctx.Err() != nil {
		return context.Canceled
	}
	return err
}

func report(outDir string, sum *pipeline.Summary) {
	fmt.Printf("\nAnalysis completed successfully!\n")
	fmt.Printf("Output directory: %s\n", outDir)
	fmt.Printf("Object records: %d\n", sum.ObjectRecords)
	fmt.Printf("Last-use records: %d\n", sum.LastUseRecords)
	fmt.Printf("Unreachable records: %d\n", sum.UnreachableRecords)
	fmt.Printf("Allocation-site updates: %d\n", sum.UpdateIIDRecords)
	fmt.Printf("Total bytes: %d\n", sum.TotalBytes)
}
