package manager

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	sha256 "github.com/minio/sha256-simd"
)

// RuntimeImage is the sandboxed runtime used to host the inference server:
// the runner executable and the server module it executes. It is resolved
// and verified once, then shared read-only by every spawn.
type RuntimeImage struct {
	Runner     string
	ServerWasm string
	// Digest is the hex sha256 of ServerWasm.
	Digest    string
	ExtraArgs []string
}

// RuntimeOptions describe where to find the runtime.
type RuntimeOptions struct {
	Runner         string
	ServerWasm     string
	ExpectedSHA256 string
	ExtraArgs      []string
}

// LoadRuntimeImage resolves the runner (auto-discovering it when unset),
// checks the server module exists and computes its digest. A mismatch with
// ExpectedSHA256 is an error.
func LoadRuntimeImage(opts RuntimeOptions) (*RuntimeImage, error) {
	runner := strings.TrimSpace(opts.Runner)
	if runner == "" {
		runner = discoverRunner()
	}
	if runner == "" {
		return nil, ErrDependencyUnavailable("wasmedge not found: set runtime.runner or install WasmEdge")
	}
	if fi, err := os.Stat(runner); err != nil || fi.IsDir() {
		return nil, ErrDependencyUnavailable(fmt.Sprintf("runner not found or not a file: %s", runner))
	}
	wasm := strings.TrimSpace(opts.ServerWasm)
	if wasm == "" {
		return nil, ErrDependencyUnavailable("runtime.server_wasm is not set")
	}
	digest, err := fileDigest(wasm)
	if err != nil {
		return nil, ErrDependencyUnavailable(fmt.Sprintf("server module unreadable: %v", err))
	}
	if want := strings.ToLower(strings.TrimSpace(opts.ExpectedSHA256)); want != "" && want != digest {
		return nil, fmt.Errorf("server module %s: sha256 %s does not match expected %s", wasm, digest, want)
	}
	return &RuntimeImage{
		Runner:     runner,
		ServerWasm: wasm,
		Digest:     digest,
		ExtraArgs:  append([]string(nil), opts.ExtraArgs...),
	}, nil
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// discoverRunner attempts to locate the WasmEdge runner in common paths.
func discoverRunner() string {
	home, _ := os.UserHomeDir()
	candidates := []string{
		filepath.Join(home, ".wasmedge", "bin", "wasmedge"),
		"/usr/local/bin/wasmedge",
		"/opt/homebrew/bin/wasmedge",
	}
	for _, p := range candidates {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p
		}
	}
	if lp, err := exec.LookPath("wasmedge"); err == nil {
		return lp
	}
	return ""
}
