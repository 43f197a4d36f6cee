package academy_test

import (
	"os"
	"strings"
	"testing"
)

func readFile(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("failed to read %s: %v", name, err)
	}
	return string(data)
}

func TestDockerfileMultiStageBuild(t *testing.T) {
	content := readFile(t, "Dockerfile")

	if !strings.Contains(content, "FROM golang:") {
		t.Error("Dockerfile should contain a Go builder stage (FROM golang:)")
	}

	// 最終ステージは軽量イメージであること
	var lastFrom string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "FROM ") {
			lastFrom = trimmed
		}
	}
	if !strings.Contains(lastFrom, "gcr.io/distroless") {
		t.Errorf("final stage should use a distroless image, got: %s", lastFrom)
	}
}

func TestDockerfileBuildsAcademyBinary(t *testing.T) {
	content := readFile(t, "Dockerfile")

	if !strings.Contains(content, "./cmd/academy") {
		t.Error("Dockerfile should build ./cmd/academy")
	}
	if !strings.Contains(content, `ENTRYPOINT ["/academy"]`) {
		t.Error("Dockerfile should use the academy binary as ENTRYPOINT")
	}
	// distrolessにはシェルがないため、ヘルスチェックはサブコマンドで行う
	if !strings.Contains(content, `"healthcheck"`) {
		t.Error("Dockerfile HEALTHCHECK should run the healthcheck subcommand")
	}
}

func TestDockerComposeServices(t *testing.T) {
	content := readFile(t, "docker-compose.yml")

	for _, svc := range []string{"db:", "migrate:", "api:", "worker:"} {
		if !strings.Contains(content, svc) {
			t.Errorf("docker-compose.yml should contain service %q", svc)
		}
	}
	for _, cmd := range []string{`["migrate"]`, `["serve"]`, `["worker"]`} {
		if !strings.Contains(content, cmd) {
			t.Errorf("docker-compose.yml should run the %s subcommand", cmd)
		}
	}
	if !strings.Contains(content, "postgres:") {
		t.Error("docker-compose.yml should use PostgreSQL image")
	}
}

func TestDockerComposeNetworks(t *testing.T) {
	content := readFile(t, "docker-compose.yml")

	// DBとワーカーは内部ネットワークのみ。メール送信のためAPIだけが外部に出られる
	if !strings.Contains(content, "internal: true") {
		t.Error("docker-compose.yml should define an internal network (internal: true)")
	}
	api := section(content, "  api:", "  worker:")
	if !strings.Contains(api, "- external") {
		t.Error("api service should join the external network")
	}
	worker := section(content, "  worker:", "networks:\n  backend:")
	if strings.Contains(worker, "- external") {
		t.Error("worker service must stay on the internal network")
	}
}

func section(content, from, to string) string {
	start := strings.Index(content, from)
	if start < 0 {
		return ""
	}
	rest := content[start:]
	if end := strings.Index(rest, to); end > 0 {
		return rest[:end]
	}
	return rest
}
