package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/go-rft/rft/pkg/config"
	"github.com/go-rft/rft/pkg/driver"
	"github.com/go-rft/rft/pkg/rlog"
	"github.com/go-rft/rft/pkg/transport"
)

func main() {
	host := flag.String("H", config.DefaultHost, "server address")
	port := flag.Int("p", config.DefaultPort, "server port")
	dstPath := flag.String("d", "", "local destination path")
	remoteName := flag.String("n", "", "file name to request from the server")
	modeFlag := flag.String("r", "", "recovery strategy: SW or SR (default SR)")
	verbose := flag.Bool("v", false, "debug logging")
	quiet := flag.Bool("q", false, "warnings and errors only")
	flag.Parse()

	if err := config.ValidateAddress(*host); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := config.ValidatePort(*port); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *dstPath == "" || *remoteName == "" {
		fmt.Fprintln(os.Stderr, "error: -d and -n are required")
		os.Exit(2)
	}
	mode, err := config.ResolveMode(*modeFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if _, _, err := config.ResolveVerbosity(*verbose, *quiet); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level, _ := rlog.FromFlags(*verbose, *quiet)

	ep, err := transport.Listen("0.0.0.0:0")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer ep.Close()

	peerAddr, err := config.ResolveUDPAddr(*host, *port)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := rlog.Conn(level, peerAddr.String())
	if err := driver.ClientDownload(ep, peerAddr, *dstPath, *remoteName, mode, log); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
