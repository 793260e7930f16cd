package main

import (
	"flag"
	"strings"
)

// Options holds CLI options for the node.
type Options struct {
	ConfigPath  string
	Echo        []string
	MetricsAddr string
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("kalm-node", flag.ExitOnError)
	var opts Options
	var echo string
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.StringVar(&echo, "echo", "", "Comma-separated session labels answered with their own payload")
	fs.StringVar(&opts.MetricsAddr, "metrics", "", "Address serving /debug/vars (disabled when empty)")
	_ = fs.Parse(args)
	for _, l := range strings.Split(echo, ",") {
		if l = strings.TrimSpace(l); l != "" {
			opts.Echo = append(opts.Echo, l)
		}
	}
	return opts
}
