package blackbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"inferd/internal/rpcapi"
	"inferd/pkg/types"
)

// findFreePort picks an available TCP port on localhost.
func findFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func projectRootFromThisFile(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	// this file: <root>/tests/blackbox/blackbox_test.go
	return filepath.Dir(filepath.Dir(filepath.Dir(thisFile)))
}

func buildBinary(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("black-box tests build the binary; skipped in -short mode")
	}
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go toolchain not in PATH")
	}
	binPath := filepath.Join(t.TempDir(), "inferd")
	cmd := exec.Command("go", "build", "-o", binPath, "./cmd/inferd")
	cmd.Dir = projectRootFromThisFile(t)
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("go build failed: %v\n%s", err, string(out))
	}
	return binPath
}

type serverProc struct {
	cmd      *exec.Cmd
	base     string // http base URL, e.g. http://127.0.0.1:5000
	grpcAddr string
	exited   chan error
}

func startServer(t *testing.T, bin string, extra ...string) *serverProc {
	t.Helper()
	grpcPort, restPort := findFreePort(t), findFreePort(t)
	args := append([]string{
		"--host", "127.0.0.1",
		"--grpc-port", fmt.Sprint(grpcPort),
		"--rest-port", fmt.Sprint(restPort),
		"--stop-grace", "2s",
		"--log-format", "console",
	}, extra...)
	cmd := exec.Command(bin, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	sp := &serverProc{
		cmd:      cmd,
		base:     fmt.Sprintf("http://127.0.0.1:%d", restPort),
		grpcAddr: fmt.Sprintf("127.0.0.1:%d", grpcPort),
		exited:   make(chan error, 1),
	}
	go func() { sp.exited <- cmd.Wait() }()
	t.Cleanup(func() { _ = cmd.Process.Kill() })

	// Wait for liveness
	deadline := time.Now().Add(10 * time.Second)
	for {
		resp, err := http.Get(sp.base + "/healthz")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not become live in time")
		}
		time.Sleep(50 * time.Millisecond)
	}
	return sp
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func TestBlackbox_Flow(t *testing.T) {
	bin := buildBinary(t)
	modelDir := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "inferd.db")
	sp := startServer(t, bin, "--model-source", modelDir, "--database-url", "sqlite://"+dbPath)

	resp, body := get(t, sp.base+"/")
	if resp.StatusCode != http.StatusOK || string(body) != "Welcome!\n" {
		t.Fatalf("/ %d %q", resp.StatusCode, body)
	}

	conn, err := grpc.NewClient(sp.grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	client := rpcapi.NewClient(conn)
	out, err := client.Invoke(context.Background(), types.ModelInput{ID: "a", Payload: json.RawMessage(`"x"`)})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.Status != rpcapi.StatusOK || string(out.ModelOutput) != `"X"` {
		t.Fatalf("unexpected response %+v", out)
	}

	resp, body = get(t, sp.base+"/get-invocation-info/a")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("info %d %s", resp.StatusCode, body)
	}
	var info struct {
		ModelInput  map[string]any `json:"model_input"`
		ModelOutput map[string]any `json:"model_output"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		t.Fatalf("info json: %v body=%s", err, body)
	}
	if info.ModelInput["payload"] != "x" || info.ModelOutput["payload"] != "X" {
		t.Fatalf("unexpected info %s", body)
	}

	resp, body = get(t, sp.base+"/get-invocation-info/missing")
	var msg struct{ Message string `json:"message"` }
	_ = json.Unmarshal(body, &msg)
	if resp.StatusCode != http.StatusOK || msg.Message != "Input id=missing not found." {
		t.Fatalf("missing %d %s", resp.StatusCode, body)
	}

	// SIGTERM drains and exits cleanly
	if err := sp.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("signal: %v", err)
	}
	select {
	case err := <-sp.exited:
		if err != nil {
			t.Fatalf("expected clean exit, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("server did not exit after SIGTERM")
	}
}

func TestBlackbox_NoModelIsUnhealthy(t *testing.T) {
	bin := buildBinary(t)
	sp := startServer(t, bin)

	resp, _ := get(t, sp.base+"/")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 without a model, got %d", resp.StatusCode)
	}

	conn, err := grpc.NewClient(sp.grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	out, err := rpcapi.NewClient(conn).Invoke(context.Background(), types.ModelInput{ID: "a", Payload: json.RawMessage(`"x"`)})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.Status != rpcapi.StatusError || out.Message == "" {
		t.Fatalf("expected ERROR with message, got %+v", out)
	}
}

func TestBlackbox_UnreachableDatabaseAbortsStartup(t *testing.T) {
	bin := buildBinary(t)
	cmd := exec.Command(bin, "--grpc-port", fmt.Sprint(findFreePort(t)), "--rest-port", fmt.Sprint(findFreePort(t)),
		"--database-url", "redis://127.0.0.1:1/0")
	out, err := cmd.CombinedOutput()
	if err == nil {
		t.Fatalf("expected non-zero exit, output:\n%s", out)
	}
}
