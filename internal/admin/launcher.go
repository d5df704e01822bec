package admin

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/martiert/bongbot/internal/config"
)

// Process is a launched child bot instance.
type Process interface {
	Signal(sig os.Signal) error
	Wait() error
}

// Launcher starts child bot processes from event configs.
type Launcher struct {
	binary string
	logger *slog.Logger
}

// LauncherOption configures a Launcher.
type LauncherOption func(*Launcher)

// WithLauncherLogger sets the logger.
func WithLauncherLogger(logger *slog.Logger) LauncherOption {
	return func(l *Launcher) {
		l.logger = logger
	}
}

// NewLauncher creates a launcher running the given bot binary.
func NewLauncher(binary string, opts ...LauncherOption) *Launcher {
	l := &Launcher{
		binary: binary,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Launch writes the event config to a temporary file and starts the child
// with it. The child removes the file itself on exit (--cleanup), and the
// owner's email is handed over so the child can grant them admin rights.
func (l *Launcher) Launch(cfg config.Event, owner string) (Process, error) {
	path, err := writeTempConfig(cfg)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(l.binary,
		"--config", path,
		"--cleanup",
		"--owner", owner,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("starting child instance: %w", err)
	}
	l.logger.Info("child instance started",
		"pid", cmd.Process.Pid,
		"port", cfg.Bot.Port,
		"room", cfg.Bongs.Room)

	return &childProcess{cmd: cmd}, nil
}

// writeTempConfig reserves a unique file name and writes the event config
// there atomically. The child reads the file at startup and, launched with
// --cleanup, removes it again on exit.
func writeTempConfig(cfg config.Event) (string, error) {
	f, err := os.CreateTemp("", "bongbot-*.json")
	if err != nil {
		return "", fmt.Errorf("creating instance config: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("creating instance config: %w", err)
	}

	if err := config.SaveEventTo(cfg, name); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("writing instance config: %w", err)
	}
	return name, nil
}

type childProcess struct {
	cmd *exec.Cmd
}

func (p *childProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

func (p *childProcess) Wait() error {
	return p.cmd.Wait()
}
