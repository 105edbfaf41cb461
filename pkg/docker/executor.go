package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "codequest",
		Subsystem: "sandbox",
		Name:      "run_duration_seconds",
		Help:      "Wall time of sandbox container runs",
		Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16},
	}, []string{"image"})

	runTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codequest",
		Subsystem: "sandbox",
		Name:      "run_timeouts_total",
		Help:      "Sandbox runs killed after exceeding their time limit",
	}, []string{"image"})

	runFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codequest",
		Subsystem: "sandbox",
		Name:      "run_failures_total",
		Help:      "Sandbox runs that failed before producing a result",
	}, []string{"image"})
)

const (
	defaultWorkingDir = "/workspace"
	defaultPidsLimit  = 64
	runLabel          = "codequest.sandbox"
)

// Executor runs a command inside an isolated container.
type Executor interface {
	Run(ctx context.Context, req ExecutionRequest) (ExecutionResult, error)
}

// ExecutionRequest describes one container run. Workspace is bind mounted at
// the working directory.
type ExecutionRequest struct {
	Image         string
	Cmd           []string
	Env           []string
	Timeout       time.Duration
	Workspace     string
	MemoryLimitMB int64
	CPUShares     int64
	ReadOnlyFS    bool
}

// ExecutionResult is what the container produced. A run that hits its time
// limit is reported through TimedOut rather than an error.
type ExecutionResult struct {
	Stdout           string
	Stderr           string
	ExitCode         int
	Duration         time.Duration
	TimedOut         bool
	MemoryUsageBytes int64
	CPUUsageNanosec  uint64
}

// Config groups executor configuration values.
type Config struct {
	Host          string
	Timeout       time.Duration
	MemoryLimitMB int64
	CPUShares     int64
	WorkingDir    string
	Logger        zerolog.Logger
}

// DockerExecutor runs sandboxed programs through the Docker engine API.
type DockerExecutor struct {
	client *client.Client
	cfg    Config
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewDockerExecutor connects to the Docker engine described by cfg.
func NewDockerExecutor(cfg Config) (*DockerExecutor, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	if cfg.WorkingDir == "" {
		cfg.WorkingDir = defaultWorkingDir
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &DockerExecutor{
		client: cli,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/codequest-api/pkg/docker"),
		logger: logger.With().Str("component", "docker_executor").Logger(),
	}, nil
}

// Run starts a network-less container for req and collects its output.
func (e *DockerExecutor) Run(parent context.Context, req ExecutionRequest) (ExecutionResult, error) {
	if req.Image == "" {
		return ExecutionResult{}, errors.New("image is required")
	}
	image := req.Image

	ctx, span := e.tracer.Start(parent, "docker.executor.run", trace.WithAttributes(
		attribute.String("docker.image", image),
	))
	defer span.End()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	containerID, err := e.create(ctx, req)
	if err != nil {
		runFailures.WithLabelValues(image).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		return ExecutionResult{}, err
	}
	defer e.remove(containerID)

	start := time.Now()
	if err := e.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		runFailures.WithLabelValues(image).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "start failed")
		return ExecutionResult{}, fmt.Errorf("container start: %w", err)
	}

	result := ExecutionResult{}
	statusCh, errCh := e.client.ContainerWait(runCtx, containerID, container.WaitConditionNextExit)

	var waitErr error
	select {
	case status := <-statusCh:
		result.ExitCode = int(status.StatusCode)
	case err := <-errCh:
		waitErr = err
	case <-runCtx.Done():
		waitErr = runCtx.Err()
	}

	result.Duration = time.Since(start)
	runDuration.WithLabelValues(image).Observe(result.Duration.Seconds())

	if waitErr != nil {
		if parent.Err() != nil {
			span.RecordError(parent.Err())
			return result, parent.Err()
		}
		if !errors.Is(waitErr, context.DeadlineExceeded) {
			runFailures.WithLabelValues(image).Inc()
			span.RecordError(waitErr)
			span.SetStatus(codes.Error, "wait failed")
			return result, fmt.Errorf("container wait: %w", waitErr)
		}

		result.TimedOut = true
		runTimeouts.WithLabelValues(image).Inc()
		span.SetAttributes(attribute.Bool("docker.timed_out", true))
		e.kill(containerID)
	}

	e.collect(containerID, &result)
	span.SetAttributes(attribute.Int("docker.exit_code", result.ExitCode))

	return result, nil
}

func (e *DockerExecutor) create(ctx context.Context, req ExecutionRequest) (string, error) {
	memory := req.MemoryLimitMB
	if memory <= 0 {
		memory = e.cfg.MemoryLimitMB
	}
	cpuShares := req.CPUShares
	if cpuShares <= 0 {
		cpuShares = e.cfg.CPUShares
	}
	pids := int64(defaultPidsLimit)

	hostCfg := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: req.ReadOnlyFS,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Resources: container.Resources{
			Memory:     memory * 1024 * 1024,
			MemorySwap: memory * 1024 * 1024,
			CPUShares:  cpuShares,
			PidsLimit:  &pids,
		},
	}
	if req.Workspace != "" {
		hostCfg.Mounts = append(hostCfg.Mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: req.Workspace,
			Target: e.cfg.WorkingDir,
		})
	}

	cfg := &container.Config{
		Image:           req.Image,
		Cmd:             req.Cmd,
		Env:             req.Env,
		WorkingDir:      e.cfg.WorkingDir,
		NetworkDisabled: true,
		AttachStdout:    true,
		AttachStderr:    true,
		Labels:          map[string]string{runLabel: "true"},
	}

	resp, err := e.client.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}
	return resp.ID, nil
}

func (e *DockerExecutor) kill(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.client.ContainerKill(ctx, containerID, "KILL"); err != nil {
		e.logger.Warn().Err(err).Str("container_id", containerID).Msg("failed to kill timed out container")
	}
}

func (e *DockerExecutor) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		e.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to remove container")
	}
}

// collect reads logs and a stats snapshot. Failures here only degrade the
// result, they never fail the run.
func (e *DockerExecutor) collect(containerID string, result *ExecutionResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	logs, err := e.client.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		e.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to fetch container logs")
	} else {
		defer logs.Close()
		stdout, stderr, splitErr := splitDockerLogs(logs)
		if splitErr != nil {
			e.logger.Error().Err(splitErr).Str("container_id", containerID).Msg("failed to read container logs")
		} else {
			result.Stdout = stdout
			result.Stderr = stderr
		}
	}

	stats, err := e.client.ContainerStatsOneShot(ctx, containerID)
	if err != nil {
		return
	}
	defer stats.Body.Close()

	var data types.StatsJSON
	if err := json.NewDecoder(stats.Body).Decode(&data); err == nil {
		result.MemoryUsageBytes = int64(data.MemoryStats.MaxUsage)
		if result.MemoryUsageBytes == 0 {
			result.MemoryUsageBytes = int64(data.MemoryStats.Usage)
		}
		result.CPUUsageNanosec = data.CPUStats.CPUUsage.TotalUsage
	}
}

func splitDockerLogs(reader io.Reader) (string, string, error) {
	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, reader); err != nil {
		return "", "", err
	}
	return stdoutBuf.String(), stderrBuf.String(), nil
}

// Close releases the Docker client.
func (e *DockerExecutor) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}
