package docker_test

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/christopherjohns/guestsync/internal/config"
)

type ComposeFile struct {
	Services map[string]Service `yaml:"services"`
	Volumes  map[string]any     `yaml:"volumes"`
}

type Service struct {
	Image       string         `yaml:"image"`
	Build       *Build         `yaml:"build"`
	Ports       []string       `yaml:"ports"`
	Environment []string       `yaml:"environment"`
	DependsOn   map[string]any `yaml:"depends_on"`
	Volumes     []string       `yaml:"volumes"`
	Healthcheck *Healthcheck   `yaml:"healthcheck"`
	Restart     string         `yaml:"restart"`
	Command     string         `yaml:"command"`
}

type Build struct {
	Context string `yaml:"context"`
}

type Healthcheck struct {
	Test        []string `yaml:"test"`
	Interval    string   `yaml:"interval"`
	Timeout     string   `yaml:"timeout"`
	Retries     int      `yaml:"retries"`
	StartPeriod string   `yaml:"start_period"`
}

func projectRoot() string {
	_, filename, _, _ := runtime.Caller(0)
	// From internal/docker/ go up 2 levels to the module root
	return filepath.Join(filepath.Dir(filename), "..", "..")
}

func readCompose(t *testing.T) ComposeFile {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(projectRoot(), "docker-compose.yml"))
	if err != nil {
		t.Fatalf("failed to read docker-compose.yml: %v", err)
	}
	var compose ComposeFile
	if err := yaml.Unmarshal(data, &compose); err != nil {
		t.Fatalf("failed to parse docker-compose.yml: %v", err)
	}
	return compose
}

func envMap(env []string) map[string]string {
	m := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		m[k] = v
	}
	return m
}

func assertPortMapping(t *testing.T, ports []string, expected string) {
	t.Helper()
	for _, p := range ports {
		if p == expected {
			return
		}
	}
	t.Errorf("expected port mapping %s, got %v", expected, ports)
}

func TestDockerComposeHasAllServices(t *testing.T) {
	compose := readCompose(t)

	for _, name := range []string{"guestsync", "redis"} {
		if _, ok := compose.Services[name]; !ok {
			t.Errorf("missing service: %s", name)
		}
	}
	if len(compose.Services) != 2 {
		t.Errorf("expected 2 services, got %d", len(compose.Services))
	}
}

func TestGuestsyncService(t *testing.T) {
	svc := readCompose(t).Services["guestsync"]

	if svc.Build == nil || svc.Build.Context != "." {
		t.Error("guestsync build context should be the module root")
	}
	assertPortMapping(t, svc.Ports, "3000:3000")

	if _, ok := svc.DependsOn["redis"]; !ok {
		t.Error("guestsync should depend on redis")
	}
	if svc.Healthcheck == nil || !strings.Contains(strings.Join(svc.Healthcheck.Test, " "), "/health") {
		t.Error("guestsync healthcheck should probe /health")
	}

	env := envMap(svc.Environment)
	if env["GUESTSYNC_CLAIMS_BACKEND"] != config.ClaimsRedis {
		t.Errorf("expected redis claims backend, got %q", env["GUESTSYNC_CLAIMS_BACKEND"])
	}
	if env["GUESTSYNC_REDIS_ADDR"] != "redis:6379" {
		t.Errorf("expected GUESTSYNC_REDIS_ADDR=redis:6379, got %q", env["GUESTSYNC_REDIS_ADDR"])
	}
}

// The environment shipped in the compose file must load as a valid config.
func TestGuestsyncEnvironmentLoads(t *testing.T) {
	svc := readCompose(t).Services["guestsync"]
	for k, v := range envMap(svc.Environment) {
		t.Setenv(k, v)
	}

	vp := viper.New()
	config.SetDefaults(vp)
	cfg, err := config.Load(vp)
	if err != nil {
		t.Fatalf("compose environment does not load: %v", err)
	}
	if cfg.Port != 3000 {
		t.Errorf("expected port 3000, got %d", cfg.Port)
	}
	if cfg.Claims.Backend != config.ClaimsRedis {
		t.Errorf("expected redis claims, got %s", cfg.Claims.Backend)
	}
}

func TestRedisService(t *testing.T) {
	redis := readCompose(t).Services["redis"]

	if !strings.HasPrefix(redis.Image, "redis:") {
		t.Errorf("redis image should be redis:*, got %s", redis.Image)
	}
	assertPortMapping(t, redis.Ports, "6379:6379")

	if redis.Healthcheck == nil {
		t.Error("redis should have a healthcheck")
	}

	hasDataVolume := false
	for _, v := range redis.Volumes {
		if strings.Contains(v, "redis-data") {
			hasDataVolume = true
		}
	}
	if !hasDataVolume {
		t.Error("redis should mount a persistent data volume")
	}
}

func TestRedisVolumeDefined(t *testing.T) {
	compose := readCompose(t)
	if _, ok := compose.Volumes["redis-data"]; !ok {
		t.Error("redis-data volume should be defined at the top level")
	}
}

func TestDockerfileContent(t *testing.T) {
	data, err := os.ReadFile(filepath.Join(projectRoot(), "Dockerfile"))
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)

	if !strings.Contains(content, "FROM golang:") {
		t.Error("should use golang base image")
	}
	if !strings.Contains(content, "AS builder") {
		t.Error("should use multi-stage build")
	}
	if !strings.Contains(content, "CGO_ENABLED=0") {
		t.Error("should build a static binary")
	}
	if !strings.Contains(content, "EXPOSE 3000") {
		t.Error("should expose port 3000")
	}
}
