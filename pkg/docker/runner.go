package docker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/codequest-api/pkg/judge0"
)

// compileFailedExit is the exit code the toolchain scripts use when the
// compile step fails. Compiler diagnostics are written to compile.txt.
const compileFailedExit = 97

const (
	stdinFile   = "stdin.txt"
	compileFile = "compile.txt"
)

// Toolchain describes how to build and run one language inside a container.
type Toolchain struct {
	Image   string
	File    string
	Compile string
	Run     string
}

// DefaultToolchains covers the languages the sandbox can run locally.
var DefaultToolchains = map[string]Toolchain{
	"python":     {Image: "python:3.12-alpine", File: "main.py", Run: "python3 main.py"},
	"javascript": {Image: "node:20-alpine", File: "main.js", Run: "node main.js"},
	"go":         {Image: "golang:1.22-alpine", File: "main.go", Compile: "GOCACHE=/tmp/gocache go build -o /tmp/main main.go", Run: "/tmp/main"},
	"c":          {Image: "gcc:13", File: "main.c", Compile: "gcc -O2 -o /tmp/main main.c", Run: "/tmp/main"},
	"cpp":        {Image: "gcc:13", File: "main.cpp", Compile: "g++ -O2 -o /tmp/main main.cpp", Run: "/tmp/main"},
	"java":       {Image: "eclipse-temurin:21", File: "Main.java", Compile: "javac -d /tmp Main.java", Run: "java -cp /tmp Main"},
	"ruby":       {Image: "ruby:3.3-alpine", File: "main.rb", Run: "ruby main.rb"},
	"php":        {Image: "php:8.3-cli-alpine", File: "main.php", Run: "php main.php"},
	"bash":       {Image: "bash:5", File: "main.sh", Run: "bash main.sh"},
}

// SandboxConfig configures the local runner.
type SandboxConfig struct {
	Timeout       time.Duration
	MemoryLimitMB int64
	CPUShares     int64
	Toolchains    map[string]Toolchain
	TempDir       string
	Logger        zerolog.Logger
}

// Sandbox runs candidate programs through an Executor and reports the
// outcome using Judge0 status codes, so it can stand in for the remote judge.
type Sandbox struct {
	executor   Executor
	cfg        SandboxConfig
	toolchains map[string]Toolchain
	logger     zerolog.Logger
}

// NewSandbox wraps an executor.
func NewSandbox(executor Executor, cfg SandboxConfig) *Sandbox {
	toolchains := cfg.Toolchains
	if len(toolchains) == 0 {
		toolchains = DefaultToolchains
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &Sandbox{
		executor:   executor,
		cfg:        cfg,
		toolchains: toolchains,
		logger:     logger.With().Str("component", "docker_sandbox").Logger(),
	}
}

// Supports reports whether a toolchain exists for the language.
func (s *Sandbox) Supports(language string) bool {
	_, ok := s.toolchain(language)
	return ok
}

func (s *Sandbox) toolchain(language string) (Toolchain, bool) {
	canonical, ok := judge0.CanonicalLanguage(language)
	if !ok {
		return Toolchain{}, false
	}
	tc, ok := s.toolchains[canonical]
	return tc, ok
}

// Execute runs the program against stdin and maps the container outcome to
// a Judge0 style result.
func (s *Sandbox) Execute(ctx context.Context, req judge0.Request) (judge0.Result, error) {
	tc, ok := s.toolchain(req.Language)
	if !ok {
		return judge0.Result{}, fmt.Errorf("%w: %s", judge0.ErrUnsupportedLanguage, req.Language)
	}

	workspace, err := os.MkdirTemp(s.cfg.TempDir, "codequest-run-*")
	if err != nil {
		return judge0.Result{}, fmt.Errorf("create workspace: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workspace); err != nil {
			s.logger.Warn().Err(err).Str("workspace", workspace).Msg("failed to clean sandbox workspace")
		}
	}()

	if err := os.WriteFile(filepath.Join(workspace, tc.File), []byte(req.Source), 0o644); err != nil {
		return judge0.Result{}, fmt.Errorf("write source: %w", err)
	}
	if err := os.WriteFile(filepath.Join(workspace, stdinFile), []byte(req.Stdin), 0o644); err != nil {
		return judge0.Result{}, fmt.Errorf("write stdin: %w", err)
	}

	run, err := s.executor.Run(ctx, ExecutionRequest{
		Image:         tc.Image,
		Cmd:           []string{"sh", "-c", script(tc)},
		Timeout:       s.cfg.Timeout,
		Workspace:     workspace,
		MemoryLimitMB: s.cfg.MemoryLimitMB,
		CPUShares:     s.cfg.CPUShares,
	})
	if err != nil {
		return judge0.Result{}, err
	}

	result := judge0.Result{
		Stdout: run.Stdout,
		Stderr: run.Stderr,
		Time:   run.Duration.Seconds(),
		Memory: int(run.MemoryUsageBytes / 1024),
	}

	switch {
	case run.TimedOut:
		result.Status = judge0.Status{ID: judge0.StatusTimeLimitExceeded, Description: "Time Limit Exceeded"}
	case run.ExitCode == compileFailedExit && tc.Compile != "":
		result.Status = judge0.Status{ID: judge0.StatusCompilationError, Description: "Compilation Error"}
		if data, readErr := os.ReadFile(filepath.Join(workspace, compileFile)); readErr == nil {
			result.CompileOutput = string(data)
		}
	case run.ExitCode != 0:
		result.Status = judge0.Status{ID: judge0.StatusRuntimeErrorNZEC, Description: "Runtime Error (NZEC)"}
		result.Message = fmt.Sprintf("Exited with error status %d", run.ExitCode)
	default:
		result.Status = judge0.Status{ID: judge0.StatusAccepted, Description: "Accepted"}
	}

	return result, nil
}

func script(tc Toolchain) string {
	run := fmt.Sprintf("%s < %s", tc.Run, stdinFile)
	if strings.TrimSpace(tc.Compile) == "" {
		return run
	}
	return fmt.Sprintf("%s > %s 2>&1 || exit %d; %s", tc.Compile, compileFile, compileFailedExit, run)
}
