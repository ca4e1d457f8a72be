package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewManagerCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	cfg := m.Get()
	if cfg.ServerPort != 8080 || cfg.Source.Type != SourceSynthetic {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Graph.InputStream != "input_video" || len(cfg.Graph.Nodes) != 4 {
		t.Fatalf("unexpected default graph: %+v", cfg.Graph)
	}
	if m.GetViper().GetInt("source.fps") != 15 {
		t.Fatalf("viper view out of sync: %v", m.GetViper().Get("source.fps"))
	}
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `server_port: 9090
source:
  type: images
  dir: /tmp/frames
  fps: 5
side_packets:
  focal_length_pixel: 4.2
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := m.Get()
	if cfg.ServerPort != 9090 || cfg.Source.Type != SourceImages || cfg.Source.Dir != "/tmp/frames" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.LogLevel != "info" || cfg.Source.Width != 640 {
		t.Fatalf("defaults not kept: %+v", cfg)
	}
	if cfg.SidePackets["focal_length_pixel"] != 4.2 {
		t.Fatalf("side packet not loaded: %v", cfg.SidePackets)
	}
	if len(cfg.Graph.Nodes) != len(DefaultGraph().Nodes) {
		t.Fatalf("default graph not used: %d nodes", len(cfg.Graph.Nodes))
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("source:\n  type: hologram\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewManager(path); err == nil || !strings.Contains(err.Error(), "hologram") {
		t.Fatalf("expected source type error, got %v", err)
	}
}

func TestSetPersistsAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if err := m.Set("source.fps", 30); err != nil {
		t.Fatalf("set fps: %v", err)
	}
	if err := m.SetSidePacket("focal_length_pixel", 512.5); err != nil {
		t.Fatalf("set side packet: %v", err)
	}
	if err := m.SetPort(0); err == nil {
		t.Fatal("expected port 0 to be rejected")
	}
	if err := m.Set("no_such_key", "x"); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}

	reloaded, err := NewManager(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	cfg := reloaded.Get()
	if cfg.Source.FPS != 30 {
		t.Fatalf("fps not persisted: %d", cfg.Source.FPS)
	}
	if cfg.SidePackets["focal_length_pixel"] != 512.5 {
		t.Fatalf("side packet not persisted: %v", cfg.SidePackets)
	}
	if cfg.ServerPort != 8080 {
		t.Fatalf("rejected port leaked into config: %d", cfg.ServerPort)
	}
	if got := reloaded.GetViper().GetInt("server_port"); got != 8080 {
		t.Fatalf("viper port %d", got)
	}
	if len(cfg.Graph.Nodes) != 4 || cfg.Graph.Nodes[2].SideInputs[0] != "focal_length_pixel" {
		t.Fatalf("graph damaged by Set: %+v", cfg.Graph.Nodes)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := m.Get()
	cfg.SidePackets["x"] = 1
	cfg.Graph.Nodes[0].Inputs[0] = "changed"

	again := m.Get()
	if _, ok := again.SidePackets["x"]; ok {
		t.Fatal("side packets shared with caller")
	}
	if again.Graph.Nodes[0].Inputs[0] != "input_video" {
		t.Fatal("graph shared with caller")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"port":        func(c *Config) { c.ServerPort = 70000 },
		"log level":   func(c *Config) { c.LogLevel = "chatty" },
		"fps":         func(c *Config) { c.Source.FPS = 0 },
		"images dir":  func(c *Config) { c.Source.Type = SourceImages },
		"focal":       func(c *Config) { c.Source.FocalLengthPixel = -1 },
		"input":       func(c *Config) { c.Graph.InputStream = "" },
		"calculator":  func(c *Config) { c.Graph.Nodes[0].Calculator = "" },
		"quality":     func(c *Config) { c.Output.MJPEG.Quality = 0 },
		"zmq address": func(c *Config) { c.Output.ZMQ.Enabled = true; c.Output.ZMQ.Endpoint = "" },
		"device shell": func(c *Config) {
			c.Source.Type = SourceCamera
			c.Source.Device = "/dev/null; touch /tmp/x #"
		},
		"device relative": func(c *Config) { c.Source.Device = "video0" },
		"device parent":   func(c *Config) { c.Source.Device = "/dev/../etc/passwd" },
		"camera device":   func(c *Config) { c.Source.Type = SourceCamera; c.Source.Device = "" },
	}
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	for _, level := range []string{"", "warning", "off", "disabled", "TRACE"} {
		c := Defaults()
		c.LogLevel = level
		if err := c.Validate(); err != nil {
			t.Errorf("log_level %q rejected: %v", level, err)
		}
	}
	c := Defaults()
	c.Source.Type = SourceCamera
	c.Source.Device = "/dev/v4l/by-id/usb-cam_0-video-index0"
	if err := c.Validate(); err != nil {
		t.Errorf("plain device path rejected: %v", err)
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Defaults()
			mutate(c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
