package main

import (
	"testing"

	"kalm/pkg/config"
)

func TestSenderConfigKeepsOneEphemeralAdapter(t *testing.T) {
	cfg := config.Default()
	cfg.Adapters["tcp"] = config.AdapterConfig{Port: 3000, Host: "0.0.0.0"}
	senderConfig(cfg, "tcp")
	if len(cfg.Adapters) != 1 {
		t.Fatalf("adapters: %v", cfg.Adapters)
	}
	ac := cfg.Adapters["tcp"]
	if ac.Port != 0 || ac.Host != "0.0.0.0" {
		t.Fatalf("tcp adapter: %+v", ac)
	}
	if cfg.Connections["tcp"].DialTimeout == 0 {
		t.Fatalf("connection defaults not derived")
	}
}

func TestSenderConfigIPCKeepsPath(t *testing.T) {
	cfg := config.Default()
	senderConfig(cfg, "ipc")
	ac := cfg.Adapters["ipc"]
	if ac.Port == 0 || ac.Port == 4001 || ac.Path != "/tmp/socket-" {
		t.Fatalf("ipc adapter: %+v", ac)
	}
	if cfg.Connections["ipc"].Path != "/tmp/socket-" {
		t.Fatalf("ipc connection path: %+v", cfg.Connections["ipc"])
	}
}
