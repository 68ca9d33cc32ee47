package main

import (
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/heapscope/heapscope/internal/cli"
	"github.com/heapscope/heapscope/internal/ingest"
	"github.com/heapscope/heapscope/internal/location"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version information")
		showHelp    = flag.Bool("help", false, "show help information")
		jsonOutput  = flag.Bool("json", false, "output version in JSON format")
		addr        = flag.String("addr", ":4433", "UDP address to serve HTTP/3 on")
		certFile    = flag.String("cert", "", "TLS certificate file (required)")
		keyFile     = flag.String("key", "", "TLS key file (required)")
		spoolDir    = flag.String("spool", "./spool", "directory for per-upload analysis output")
		sourceMap   = flag.String("sourcemap", "", "source map sidecar for resolving locations")
		maxUpload   = flag.Int64("max-upload", 0, "upload size limit in bytes (default 1GiB)")
		idleTimeout = flag.Duration("idle-timeout", 30*time.Second, "close connections idle this long")
		verbose     = flag.Bool("verbose", false, "verbose output")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Heapscope trace ingestion server (HTTP/3).\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEXAMPLES:\n")
		fmt.Fprintf(os.Stderr, "  %s --cert srv.pem --key srv.key                 # Serve on :4433\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --cert srv.pem --key srv.key --addr :0       # Ephemeral port\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nUploads are POSTed to /v1/traces?name=<run>.\n")
	}

	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if *showVersion {
		cli.PrintVersion("Heapscope Ingest Server", *jsonOutput)
		os.Exit(0)
	}

	if *certFile == "" || *keyFile == "" {
		cli.ExitWithError("--cert and --key are required")
	}

	cert, err := tls.LoadX509KeyPair(*certFile, *keyFile)
	if err != nil {
		cli.ExitWithError("failed to load TLS key pair: %v", err)
	}

	logger := cli.NewLogger(*verbose, false)

	reg := location.Registry(location.NewTable())
	if *sourceMap != "" {
		t, err := location.LoadTable(*sourceMap)
		if err != nil {
			cli.ExitWithError("%v", err)
		}
		reg = t
	}

	h := &ingest.Handler{Reg: reg, SpoolDir: *spoolDir}
	srv := ingest.NewServer(*addr, &tls.Config{Certificates: []tls.Certificate{cert}}, h, ingest.Config{
		MaxUploadBytes: *maxUpload,
		IdleTimeout:    *idleTimeout,
	})

	bound, err := srv.Start()
	if err != nil {
		cli.ExitWithError("failed to start server: %v", err)
	}
	fmt.Printf("Ingesting traces on https://%s/v1/traces (HTTP/3)\n", bound)
	fmt.Printf("Spool directory: %s\n", *spoolDir)
	fmt.Printf("Press Ctrl+C to stop\n")

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt)

	select {
	case err := <-srv.Err():
		_ = srv.Stop()
		cli.ExitWithError("serve failed: %v", err)
	case <-sigC:
		logger.Info("shutting down")
		if err := srv.Stop(); err != nil {
			cli.ExitWithError("shutdown failed: %v", err)
		}
	}
}
