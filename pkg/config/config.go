// Package config resolves the CLI flags described by the external
// interface, optionally layering server defaults from an INI file
// beneath them. ini.v1 is the teacher's EDS-parsing dependency,
// repurposed here for a flat "[server]" defaults section.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/go-rft/rft/internal/wire"
	"github.com/go-rft/rft/pkg/rerrors"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 65432
)

// Server holds the resolved configuration for start-server.
type Server struct {
	Host       string
	Port       int
	StorageDir string
	Verbose    bool
	Quiet      bool
}

// ServerDefaultsFromINI reads a "[server]" section (keys host, port,
// storage_dir, log_level) from path, returning zero values for any key
// that is absent. A missing file is not an error: callers fall back to
// the compiled-in defaults.
func ServerDefaultsFromINI(path string) (Server, error) {
	var s Server
	if path == "" {
		return s, nil
	}
	cfg, err := ini.LooseLoad(path)
	if err != nil {
		return s, &rerrors.ConfigError{Field: "config-file", Value: path, Cause: err}
	}
	section := cfg.Section("server")
	s.Host = section.Key("host").String()
	if portStr := section.Key("port").String(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return s, &rerrors.ConfigError{Field: "port", Value: portStr, Cause: err}
		}
		s.Port = p
	}
	s.StorageDir = section.Key("storage_dir").String()
	switch strings.ToLower(section.Key("log_level").String()) {
	case "debug":
		s.Verbose = true
	case "warn", "quiet":
		s.Quiet = true
	}
	return s, nil
}

// Client holds the resolved configuration shared by upload and download.
type Client struct {
	Host    string
	Port    int
	Mode    wire.Mode
	Verbose bool
	Quiet   bool
}

// ValidateAddress checks host is a literal IPv4 or IPv6 address; no DNS
// resolution is ever performed, per the external interface contract.
func ValidateAddress(host string) error {
	if net.ParseIP(host) == nil {
		return &rerrors.ConfigError{Field: "host", Value: host, Cause: fmt.Errorf("not a literal IP address")}
	}
	return nil
}

// ValidatePort checks port is in [1, 65535].
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return &rerrors.ConfigError{Field: "port", Value: strconv.Itoa(port), Cause: fmt.Errorf("out of range")}
	}
	return nil
}

// ResolveMode maps the CLI -r spelling onto a wire.Mode, defaulting to
// Selective Repeat when unset.
func ResolveMode(flagValue string) (wire.Mode, error) {
	if flagValue == "" {
		return wire.ModeSelectiveRepeat, nil
	}
	m, ok := wire.ParseMode(strings.ToUpper(flagValue))
	if !ok {
		return 0, &rerrors.ConfigError{Field: "mode", Value: flagValue, Cause: fmt.Errorf("must be SW or SR")}
	}
	return m, nil
}

// ResolveUDPAddr builds a *net.UDPAddr from an already-validated literal
// host and port, with no DNS resolution.
func ResolveUDPAddr(host string, port int) (*net.UDPAddr, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, &rerrors.ConfigError{Field: "address", Value: addr, Cause: err}
	}
	return udpAddr, nil
}

// ResolveVerbosity rejects -v and -q both set.
func ResolveVerbosity(verbose, quiet bool) (bool, bool, error) {
	if verbose && quiet {
		return false, false, &rerrors.ConfigError{Field: "verbosity", Value: "-v,-q", Cause: rerrors.ErrVerbosityConflict}
	}
	return verbose, quiet, nil
}
