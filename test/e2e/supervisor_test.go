// Package e2e tests the flowd binary end to end: build it once, start it as
// a subprocess with both endpoints on ephemeral ports, and drive it over
// HTTP the way a deployed client would.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"
)

const (
	startupTimeout = 10 * time.Second
	pollInterval   = 100 * time.Millisecond
)

// lockedBuffer is a thread-safe wrapper around bytes.Buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

// supervisorProc holds the running flowd subprocess and its endpoints.
type supervisorProc struct {
	cmd        *exec.Cmd
	stdout     *lockedBuffer
	execURL    string
	controlURL string
}

var (
	builtBinary string
	buildOnce   sync.Once
	buildErr    error
)

func getBinary(t *testing.T) string {
	t.Helper()
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "flowd-e2e-*")
		if err != nil {
			buildErr = err
			return
		}
		binary := filepath.Join(dir, "flowd")
		cmd := exec.Command("go", "build", "-o", binary, "./cmd/flowd")
		cmd.Dir = findRepoRoot(t)
		out, err := cmd.CombinedOutput()
		if err != nil {
			buildErr = fmt.Errorf("go build failed: %w\n%s", err, out)
			return
		}
		builtBinary = binary
	})
	if buildErr != nil {
		t.Fatal(buildErr)
	}
	return builtBinary
}

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find repo root")
		}
		dir = parent
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func startSupervisor(t *testing.T) *supervisorProc {
	t.Helper()

	binary := getBinary(t)
	execAddr := freeAddr(t)
	controlAddr := freeAddr(t)
	dbPath := filepath.Join(t.TempDir(), "test.db")

	stdout := &lockedBuffer{}
	cmd := exec.Command(binary)
	cmd.Env = append(os.Environ(),
		"FLOWD_EXEC_ADDR="+execAddr,
		"FLOWD_CONTROL_ADDR="+controlAddr,
		"FLOWD_DB_PATH="+dbPath,
		"FLOWD_LOG_LEVEL=info",
		"FLOWD_DRAIN_GRACE_S=5",
	)
	cmd.Stdout = stdout
	cmd.Stderr = stdout

	if err := cmd.Start(); err != nil {
		t.Fatalf("start supervisor: %v", err)
	}

	sp := &supervisorProc{
		cmd:        cmd,
		stdout:     stdout,
		execURL:    "http://" + execAddr,
		controlURL: "http://" + controlAddr,
	}

	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(sp.controlURL + "/readyz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == 200 {
				return sp
			}
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("supervisor did not become ready within %v\nstdout:\n%s", startupTimeout, stdout.String())
	return nil
}

func postJSON(t *testing.T, url string, payload string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, body
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, body
}

func TestBinaryStartsAndReportsReady(t *testing.T) {
	sp := startSupervisor(t)

	resp, body := getJSON(t, sp.controlURL+"/healthz")
	if resp.StatusCode != 200 {
		t.Errorf("healthz status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("healthz body = %v", body)
	}

	resp, body = getJSON(t, sp.controlURL+"/readyz")
	if resp.StatusCode != 200 {
		t.Errorf("readyz status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "listening" {
		t.Errorf("readyz body = %v", body)
	}
}

func TestSampleWorkflowsRegistered(t *testing.T) {
	sp := startSupervisor(t)

	_, body := getJSON(t, sp.controlURL+"/v1/workflows")
	workflows, ok := body["workflows"].([]any)
	if !ok {
		t.Fatalf("workflows = %T", body["workflows"])
	}

	names := map[string]bool{}
	for _, w := range workflows {
		names[w.(map[string]any)["name"].(string)] = true
	}
	for _, want := range []string{"hello-world-d", "get-env", "process-pricing", "process-inventory", "process-order"} {
		if !names[want] {
			t.Errorf("workflow %q not registered; have %v", want, names)
		}
	}
}

func TestDrainOnSIGTERM(t *testing.T) {
	sp := startSupervisor(t)

	if err := sp.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("signal: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- sp.cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("supervisor exited non-zero: %v\nstdout:\n%s", err, sp.stdout.String())
		}
	case <-time.After(startupTimeout):
		t.Fatalf("supervisor did not exit after SIGTERM\nstdout:\n%s", sp.stdout.String())
	}

	// Both endpoints must be released.
	if _, err := http.Get(sp.controlURL + "/healthz"); err == nil {
		t.Error("control endpoint still accepting connections after drain")
	}
	if _, err := http.Get(sp.execURL + "/v1/invocations"); err == nil {
		t.Error("execution endpoint still accepting connections after drain")
	}
}

func TestMetricsExposed(t *testing.T) {
	sp := startSupervisor(t)

	// Generate one invocation so the dispatch metrics have samples.
	postJSON(t, sp.execURL+"/v1/invocations",
		`{"workflow_name":"hello-world-d","input":{"name":"arun","age":12}}`)

	resp, err := http.Get(sp.controlURL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	body := buf.String()

	for _, metric := range []string{
		"flowd_http_requests_total",
		"flowd_http_request_duration_seconds",
		"flowd_invocations_total",
		"flowd_invocation_duration_seconds",
	} {
		if !bytes.Contains([]byte(body), []byte(metric)) {
			t.Errorf("metrics output missing %s", metric)
		}
	}
}
