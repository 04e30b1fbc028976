package docker

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/mmr-tortoise/uhd-provision/internal/ctxlog"
	"github.com/mmr-tortoise/uhd-provision/internal/model"
	"github.com/mmr-tortoise/uhd-provision/internal/runner"
)

// removeTimeout bounds container removal in Close, which runs with its own
// context because the run's context may already be cancelled.
const removeTimeout = 30 * time.Second

// execPollInterval is how often an exec is inspected after its output
// stream closed but before the daemon reports it finished.
const execPollInterval = 50 * time.Millisecond

// engine is the subset of the Docker SDK client used by Runner.
type engine interface {
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// RunnerOptions configures a container runner.
type RunnerOptions struct {
	// Image is the base image, e.g. "debian:bookworm".
	Image string

	// Workdir is the container working directory. Relative Command.Dir
	// values are resolved against it.
	Workdir string

	// Keep leaves the container in place after Close, for inspection.
	Keep bool

	// RunID is recorded in the container labels and name.
	RunID string

	// Env is set on the container itself, in addition to per-command Env.
	Env []string

	// Stdout and Stderr receive streamed command output.
	Stdout io.Writer
	Stderr io.Writer
}

// Runner executes commands inside a dedicated container through the
// Docker exec API. The container idles on `sleep infinity` between
// commands, so files written by one step are visible to the next.
type Runner struct {
	api  engine
	opts RunnerOptions

	containerID string
}

var _ runner.Runner = (*Runner)(nil)

// NewRunner creates a container runner. Start must be called before Run.
func NewRunner(cli *Client, opts RunnerOptions) *Runner {
	return newRunner(cli.Inner(), opts)
}

func newRunner(api engine, opts RunnerOptions) *Runner {
	if opts.Workdir == "" {
		opts.Workdir = "/"
	}
	return &Runner{api: api, opts: opts}
}

// ContainerID returns the ID of the started container, or "".
func (r *Runner) ContainerID() string {
	return r.containerID
}

// Start pulls the image and creates and starts the container.
func (r *Runner) Start(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	logger.Info("pulling image", "image", r.opts.Image)
	if err := r.pull(ctx); err != nil {
		return model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to pull image %q", r.opts.Image),
			err,
		)
	}

	cfg := &container.Config{
		Image:      r.opts.Image,
		Cmd:        []string{"sleep", "infinity"},
		WorkingDir: r.opts.Workdir,
		Env:        r.opts.Env,
		Labels: BuildLabels(RunLabels{
			RunID:     r.opts.RunID,
			Image:     r.opts.Image,
			CreatedAt: time.Now(),
		}),
	}
	// Init reaps the zombies that build tools leave behind under sleep.
	useInit := true
	hostCfg := &container.HostConfig{Init: &useInit}

	name := ""
	if r.opts.RunID != "" {
		name = ContainerName(r.opts.RunID)
	}

	created, err := r.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to create container from %q", r.opts.Image),
			err,
		)
	}
	r.containerID = created.ID
	for _, w := range created.Warnings {
		logger.Warn("docker", "warning", w)
	}

	if err := r.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to start container %q", shortID(created.ID)),
			err,
		)
	}

	logger.Info("container started", "container", shortID(created.ID), "name", name, "workdir", r.opts.Workdir)
	return nil
}

// pull fetches the image. The progress stream must be drained for the pull
// to complete.
func (r *Runner) pull(ctx context.Context) error {
	rc, err := r.api.ImagePull(ctx, r.opts.Image, image.PullOptions{})
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

// Kind reports RunnerContainer.
func (r *Runner) Kind() model.RunnerKind {
	return model.RunnerContainer
}

// Run executes c inside the container and waits for it to finish.
func (r *Runner) Run(ctx context.Context, c runner.Command) (runner.Result, error) {
	if r.containerID == "" {
		return runner.Result{ExitCode: -1}, fmt.Errorf("container runner not started")
	}

	logger := ctxlog.FromContext(ctx)
	logger.Debug("exec", "cmd", c.String(), "container", shortID(r.containerID))

	start := time.Now()
	res := runner.Result{ExitCode: -1}

	exec, err := r.api.ContainerExecCreate(ctx, r.containerID, execOptions(c, r.opts.Workdir))
	if err != nil {
		return res, fmt.Errorf("failed to start %s: %w", c.Name, err)
	}

	attach, err := r.api.ContainerExecAttach(ctx, exec.ID, container.ExecAttachOptions{})
	if err != nil {
		return res, fmt.Errorf("failed to attach to %s: %w", c.Name, err)
	}

	var stdout strings.Builder
	stderr := &runner.TailWriter{}
	var outW, errW io.Writer
	if c.Capture {
		outW, errW = &stdout, stderr
	} else {
		outW = writerOrDiscard(r.opts.Stdout)
		errW = io.MultiWriter(writerOrDiscard(r.opts.Stderr), stderr)
	}

	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(outW, errW, attach.Reader)
		copied <- err
	}()

	select {
	case err = <-copied:
		attach.Close()
	case <-ctx.Done():
		// Closing the stream unblocks StdCopy. The process itself keeps
		// running until the container is removed in Close.
		attach.Close()
		<-copied
		res.Duration = time.Since(start)
		return res, fmt.Errorf("%s interrupted: %w", c.Name, ctx.Err())
	}

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	if err != nil {
		res.Duration = time.Since(start)
		return res, fmt.Errorf("failed to read output of %s: %w", c.Name, err)
	}

	code, err := r.waitExit(ctx, exec.ID)
	res.Duration = time.Since(start)
	if err != nil {
		return res, fmt.Errorf("failed to inspect %s: %w", c.Name, err)
	}

	res.ExitCode = code
	if code != 0 {
		return res, &runner.ExitError{Command: c, Code: code, Stderr: res.Stderr}
	}
	return res, nil
}

// waitExit polls the exec until the daemon reports it finished.
func (r *Runner) waitExit(ctx context.Context, execID string) (int, error) {
	for {
		inspect, err := r.api.ContainerExecInspect(ctx, execID)
		if err != nil {
			return -1, err
		}
		if !inspect.Running {
			return inspect.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-time.After(execPollInterval):
		}
	}
}

// Close removes the container unless Keep was requested.
func (r *Runner) Close() error {
	if r.containerID == "" || r.opts.Keep {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()

	if err := r.api.ContainerRemove(ctx, r.containerID, container.RemoveOptions{Force: true}); err != nil {
		return model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to remove container %q", shortID(r.containerID)),
			err,
		)
	}
	r.containerID = ""
	return nil
}

// execOptions builds the exec request for c. Docker requires an absolute
// working directory, so relative directories are joined onto workdir.
func execOptions(c runner.Command, workdir string) container.ExecOptions {
	dir := workdir
	if c.Dir != "" {
		if path.IsAbs(c.Dir) {
			dir = c.Dir
		} else {
			dir = path.Join(workdir, c.Dir)
		}
	}
	return container.ExecOptions{
		Cmd:          c.Argv(),
		Env:          c.Env,
		WorkingDir:   dir,
		AttachStdout: true,
		AttachStderr: true,
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
