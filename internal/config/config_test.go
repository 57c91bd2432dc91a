package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shaiso/mediaflow/internal/domain"
	"github.com/shaiso/mediaflow/internal/engine"
	"github.com/shaiso/mediaflow/internal/orchestrator"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mediaflow.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// chdirTemp переходит во временную директорию, чтобы .env разработчика
// не влиял на тест.
func chdirTemp(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
}

// --- Load Tests ---

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv(EnvConfigPath, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want 8080", cfg.API.Port)
	}
	if cfg.Sweeper.Schedule != "@every 1m" {
		t.Errorf("Sweeper.Schedule = %q", cfg.Sweeper.Schedule)
	}

	flows, err := cfg.FlowDefinitions()
	if err != nil {
		t.Fatalf("FlowDefinitions: %v", err)
	}
	if _, ok := flows[orchestrator.FlowLabelDetection]; !ok {
		t.Error("default flows missing label-detection")
	}
}

func TestLoad_TOMLAndEnvOverrides(t *testing.T) {
	chdirTemp(t)

	path := writeConfig(t, `
[database]
url = "postgresql://file/db"

[worker]
concurrency = 8

[[flows]]
name = "detect"
steps = ["LABEL", "FACE"]
policy = "all-success"
independent_steps = ["FACE"]
retry = { max_attempts = 5, backoff = "fixed", initial_delay_ms = 200 }

[flows.inputs.LABEL]
video_uri = "{{ .Inputs.video_uri }}"

[steps.LABEL]
endpoint = "http://label:9000/detect"
timeout_sec = 60
dedup_entities = true
`)
	t.Setenv(EnvConfigPath, path)
	t.Setenv("DB_URL", "postgresql://env/db")
	t.Setenv("API_PORT", "9090")
	t.Setenv("SWEEPER_SCHEDULE", "*/5 * * * *")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Database.URL != "postgresql://env/db" {
		t.Errorf("Database.URL = %q, env should win", cfg.Database.URL)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if cfg.Worker.Concurrency != 8 {
		t.Errorf("Worker.Concurrency = %d, want 8", cfg.Worker.Concurrency)
	}
	if cfg.Worker.BatchSize != 50 {
		t.Errorf("Worker.BatchSize = %d, default should survive partial section", cfg.Worker.BatchSize)
	}
	if cfg.Sweeper.Schedule != "*/5 * * * *" {
		t.Errorf("Sweeper.Schedule = %q", cfg.Sweeper.Schedule)
	}

	flows, err := cfg.FlowDefinitions()
	if err != nil {
		t.Fatalf("FlowDefinitions: %v", err)
	}
	f, ok := flows["detect"]
	if !ok || len(flows) != 1 {
		t.Fatalf("flows = %v", flows)
	}
	if f.PolicyName != engine.PolicyAllSuccess {
		t.Errorf("PolicyName = %q", f.PolicyName)
	}
	if !f.IsIndependent(domain.StepFace) || f.IsIndependent(domain.StepLabel) {
		t.Errorf("IndependentSteps = %v", f.IndependentSteps)
	}
	if f.Retry.MaxAttempts != 5 || f.Retry.Backoff != "fixed" {
		t.Errorf("Retry = %+v", f.Retry)
	}
	if f.StepInputs[domain.StepLabel]["video_uri"] != "{{ .Inputs.video_uri }}" {
		t.Errorf("StepInputs = %v", f.StepInputs)
	}

	routes := cfg.StepRoutes()
	r, ok := routes[domain.StepLabel]
	if !ok {
		t.Fatal("missing LABEL route")
	}
	if r.Timeout != 60*time.Second || !r.DedupEntities || r.Endpoint != "http://label:9000/detect" {
		t.Errorf("route = %+v", r)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		toml string
		env  map[string]string
	}{
		{"unknown field", "[api]\nportt = 1\n", nil},
		{"bad toml", "[api\n", nil},
		{"bad port env", "", map[string]string{"API_PORT": "eighty"}},
		{"port out of range", "[api]\nport = 70000\n", nil},
		{"bad schedule", "[sweeper]\nschedule = \"whenever\"\n", nil},
		{"step without endpoint", "[steps.LABEL]\ntimeout_sec = 5\n", nil},
		{"step bad scheme", "[steps.LABEL]\nendpoint = \"ftp://x/y\"\n", nil},
		{"unknown policy", "[[flows]]\nname = \"x\"\nsteps = [\"LABEL\"]\npolicy = \"most\"\n", nil},
		{"duplicate flow", "[[flows]]\nname = \"x\"\nsteps = [\"LABEL\"]\n[[flows]]\nname = \"x\"\nsteps = [\"FACE\"]\n", nil},
		{"empty flow steps", "[[flows]]\nname = \"x\"\n", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdirTemp(t)
			t.Setenv(EnvConfigPath, "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := ""
			if tt.toml != "" {
				path = writeConfig(t, tt.toml)
			}

			if _, err := Load(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	chdirTemp(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoad_DotEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv(EnvConfigPath, "")
	t.Setenv("WORKER_PORT", "")

	if err := os.WriteFile(".env", []byte("WORKER_PORT=9191\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	// godotenv не перезаписывает существующие переменные; пустая
	// переменная от t.Setenv считается заданной, поэтому снимаем её.
	os.Unsetenv("WORKER_PORT")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Worker.Port != 9191 {
		t.Errorf("Worker.Port = %d, want 9191 from .env", cfg.Worker.Port)
	}
}

// --- Validate Tests ---

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.API.Port = 0
	cfg.Worker.Concurrency = 0
	cfg.Database.URL = ""

	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}

	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) || len(joined.Unwrap()) != 3 {
		t.Errorf("expected 3 joined errors, got %v", err)
	}
}

func TestFlowDefinitions_DefaultRetry(t *testing.T) {
	cfg := Default()
	cfg.Flows = []FlowConfig{{Name: "x", Steps: []string{"LABEL"}}}

	flows, err := cfg.FlowDefinitions()
	if err != nil {
		t.Fatalf("FlowDefinitions: %v", err)
	}
	if flows["x"].Retry != domain.DefaultRetryPolicy() {
		t.Errorf("Retry = %+v, want default", flows["x"].Retry)
	}
	if flows["x"].PolicyName != engine.PolicyAnySuccess {
		t.Errorf("PolicyName = %q, want any-success", flows["x"].PolicyName)
	}
}
