// Package executor implements the worker that runs the session's latest
// program in a scratch work directory.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/logging"
	"github.com/Iron-Ham/relay/internal/transcript"
	"github.com/Iron-Ham/relay/internal/util"
	"github.com/Iron-Ham/relay/internal/worker"
)

// ID is the executor's registered identity.
const ID = "Executor Agent"

const description = "Runs the most recent program written by the Coder Agent and reports its output. " +
	"Cannot write programs itself."

const (
	// DefaultPython is the interpreter for python programs.
	DefaultPython = "python3"
	// DefaultShell is the interpreter for sh programs.
	DefaultShell = "sh"
	// MaxOutputRunes bounds the output returned to the orchestrator.
	MaxOutputRunes = 20000
)

// Executor writes the program to its work directory and runs it with the
// matching interpreter.
type Executor struct {
	fs      afero.Fs
	dir     string
	python  string
	shell   string
	logger  *logging.Logger
	cleanup bool
}

var _ worker.Worker = (*Executor)(nil)

// Option configures an Executor.
type Option func(*Executor)

// WithInterpreters overrides the python and shell interpreters.
// Empty values keep the defaults.
func WithInterpreters(python, shell string) Option {
	return func(e *Executor) {
		if python != "" {
			e.python = python
		}
		if shell != "" {
			e.shell = shell
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithKeepScripts leaves program files in the work directory after they run.
func WithKeepScripts() Option {
	return func(e *Executor) { e.cleanup = false }
}

// New creates an Executor that runs programs in dir, creating it if needed.
func New(dir string, opts ...Option) (*Executor, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.NewValidationError("executor work directory must not be empty").WithField("work_dir")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrap(err, "resolve executor work directory")
	}

	e := &Executor{
		fs:      afero.NewOsFs(),
		dir:     abs,
		python:  DefaultPython,
		shell:   DefaultShell,
		logger:  logging.NopLogger(),
		cleanup: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithWorker(ID)

	if err := e.fs.MkdirAll(e.dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create executor work directory %s", e.dir)
	}
	return e, nil
}

// NewFromConfig creates an Executor from cfg. An empty work_dir uses
// {dataDir}/workspace.
func NewFromConfig(cfg config.ExecutorConfig, dataDir string, logger *logging.Logger) (*Executor, error) {
	dir := cfg.WorkDir
	if dir == "" {
		dir = filepath.Join(dataDir, "workspace")
	}
	return New(dir, WithInterpreters(cfg.Python, cfg.Shell), WithLogger(logger))
}

// ID implements worker.Worker.
func (e *Executor) ID() string { return ID }

// Description implements worker.Worker.
func (e *Executor) Description() string { return description }

// Dir returns the work directory.
func (e *Executor) Dir() string { return e.dir }

// Execute implements worker.Worker. A non-zero exit is reported as an
// unsuccessful result with the program's output; ctx expiry kills the
// program and is returned as an error.
func (e *Executor) Execute(ctx context.Context, req worker.Request) (worker.Result, error) {
	if err := req.Code.Validate(); err != nil {
		return worker.Result{
			Success: false,
			Output:  "No program to run. Ask the Coder Agent to write one first.",
		}, nil
	}
	code := *req.Code

	interpreter, ext, err := e.interpreter(code.Language)
	if err != nil {
		return worker.Result{Success: false, Output: err.Error()}, nil
	}

	path, err := e.writeScript(code.Content, ext)
	if err != nil {
		return worker.Result{}, errors.NewWorkerError("write program", err).WithWorkerID(ID)
	}
	if e.cleanup {
		defer func() {
			if rmErr := e.fs.Remove(path); rmErr != nil {
				e.logger.Warn("failed to remove program", "path", path, "error", rmErr.Error())
			}
		}()
	}

	steps := []string{fmt.Sprintf("Running %s program with %s", code.Language, interpreter)}
	if len(code.Dependencies) > 0 {
		steps = append(steps, "Program expects: "+strings.Join(code.Dependencies, ", "))
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, interpreter, path)
	cmd.Dir = e.dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	started := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(started)

	if ctx.Err() != nil {
		e.logger.Warn("program interrupted", "elapsed", elapsed.String(), "error", ctx.Err().Error())
		return worker.Result{Steps: steps}, errors.NewWorkerError("program interrupted", ctx.Err()).WithWorkerID(ID)
	}

	output := combine(stdout.String(), stderr.String())
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return worker.Result{Steps: steps}, errors.NewWorkerError("start interpreter", runErr).WithWorkerID(ID)
		}
		e.logger.Info("program failed", "exit_code", exitErr.ExitCode(), "elapsed", elapsed.String())
		output = fmt.Sprintf("Program exited with code %d\n%s", exitErr.ExitCode(), output)
		steps = append(steps, fmt.Sprintf("Exited with code %d", exitErr.ExitCode()))
		return e.result(false, output, steps), nil
	}

	e.logger.Info("program succeeded", "elapsed", elapsed.String(), "output_length", len(output))
	steps = append(steps, "Exited with code 0")
	if strings.TrimSpace(output) == "" {
		output = "Program completed with no output"
	}
	return e.result(true, output, steps), nil
}

func (e *Executor) result(success bool, output string, steps []string) worker.Result {
	output = util.TruncateString(output, MaxOutputRunes)
	return worker.Result{
		Success:  success,
		Output:   output,
		Steps:    steps,
		Messages: []transcript.Message{transcript.Assistant(ID, output)},
	}
}

func (e *Executor) interpreter(language string) (string, string, error) {
	switch strings.ToLower(strings.TrimSpace(language)) {
	case "python", "python3", "py":
		return e.python, ".py", nil
	case "sh", "shell", "bash":
		return e.shell, ".sh", nil
	default:
		return "", "", fmt.Errorf("unsupported program language %q (supported: python, sh)", language)
	}
}

func (e *Executor) writeScript(content, ext string) (string, error) {
	f, err := afero.TempFile(e.fs, e.dir, "program-*"+ext)
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		_ = e.fs.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = e.fs.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func combine(stdout, stderr string) string {
	stdout = strings.TrimRight(stdout, "\n")
	stderr = strings.TrimRight(stderr, "\n")
	switch {
	case stderr == "":
		return stdout
	case stdout == "":
		return stderr
	default:
		return stdout + "\n" + stderr
	}
}
