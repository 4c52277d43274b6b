package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-rft/rft/pkg/config"
	"github.com/go-rft/rft/pkg/rlog"
	"github.com/go-rft/rft/pkg/server"
)

func main() {
	host := flag.String("H", config.DefaultHost, "address to listen on")
	port := flag.Int("p", config.DefaultPort, "port to listen on")
	storageDir := flag.String("s", ".", "directory files are served from and written to")
	configFile := flag.String("c", "", "optional INI file with [server] defaults")
	verbose := flag.Bool("v", false, "debug logging")
	quiet := flag.Bool("q", false, "warnings and errors only")
	flag.Parse()

	defaults, err := config.ServerDefaultsFromINI(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if !isFlagSet("H") && defaults.Host != "" {
		*host = defaults.Host
	}
	if !isFlagSet("p") && defaults.Port != 0 {
		*port = defaults.Port
	}
	if !isFlagSet("s") && defaults.StorageDir != "" {
		*storageDir = defaults.StorageDir
	}
	if !isFlagSet("v") && !isFlagSet("q") {
		*verbose = *verbose || defaults.Verbose
		*quiet = *quiet || defaults.Quiet
	}

	if err := config.ValidateAddress(*host); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := config.ValidatePort(*port); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if _, _, err := config.ResolveVerbosity(*verbose, *quiet); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level, _ := rlog.FromFlags(*verbose, *quiet)
	logger := rlog.Server(level)

	addr := fmt.Sprintf("%s:%d", *host, *port)
	srv, err := server.New(addr, *storageDir, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer srv.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("listening", "addr", addr, "storage_dir", *storageDir)
	if err := srv.Serve(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func isFlagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
