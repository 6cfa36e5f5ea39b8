// Package svc runs the docsync agent as a managed system service.
package svc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/kardianos/service"
	"github.com/rs/zerolog/log"
)

// Name is the identifier registered with the platform service manager.
const Name = "docsync"

// RunFunc runs the sync agent until the context is cancelled.
type RunFunc func(ctx context.Context, configPath string) error

// Program adapts the sync agent to service.Interface. Start must not
// block; the agent runs on its own goroutine until Stop cancels it.
type Program struct {
	ConfigPath string
	Run        RunFunc

	ctx    context.Context
	cancel context.CancelFunc
	done   chan error
}

// Start is called by the service manager. It launches the agent goroutine
// and returns immediately.
func (p *Program) Start(s service.Service) error {
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.done = make(chan error, 1)

	go func() {
		if p.Run == nil {
			p.done <- fmt.Errorf("run function not configured")
			return
		}
		p.done <- p.Run(p.ctx, p.ConfigPath)
	}()

	return nil
}

// Stop cancels the agent and waits for it to exit.
func (p *Program) Stop(s service.Service) error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.done != nil {
		err := <-p.done
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

// Config describes the installed service.
type Config struct {
	Name        string // service identifier (default "docsync")
	DisplayName string // name shown in the service manager
	Description string
	ConfigPath  string // agent configuration file
	UserName    string // user to run as (Linux/macOS only)
	AuthToken   string // backend token, delivered via environment, never argv
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = Name
	}
	if c.DisplayName == "" {
		c.DisplayName = "DocSync Agent"
	}
	if c.Description == "" {
		c.Description = "Keeps a local document library synchronized with the ingestion console"
	}
	if c.ConfigPath == "" {
		c.ConfigPath = DefaultConfigPath()
	}
}

// DefaultConfigPath is the per-platform config location for the installed
// service, distinct from the per-user default the CLI uses.
func DefaultConfigPath() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("ProgramData"), "DocSync", "config.yaml")
	}
	return "/etc/docsync/config.yaml"
}

// newServiceConfig maps Config onto the kardianos service definition.
func newServiceConfig(cfg *Config) *service.Config {
	args := []string{
		"--service-run",
		"watch",
		"--config", cfg.ConfigPath,
	}

	// The token travels in the service environment; argv is visible in
	// process listings.
	env := make(map[string]string)
	if cfg.AuthToken != "" {
		env["DOCSYNC_TOKEN"] = cfg.AuthToken
	}

	svcCfg := &service.Config{
		Name:        cfg.Name,
		DisplayName: cfg.DisplayName,
		Description: cfg.Description,
		Arguments:   args,
		EnvVars:     env,
	}

	switch runtime.GOOS {
	case "linux":
		svcCfg.Dependencies = []string{"After=network-online.target", "Wants=network-online.target"}
		svcCfg.Option = service.KeyValue{
			"Restart":    "on-failure",
			"RestartSec": "5",
		}
		if cfg.UserName != "" {
			svcCfg.UserName = cfg.UserName
		}
	case "darwin":
		svcCfg.Option = service.KeyValue{
			"KeepAlive":     true,
			"RunAtLoad":     true,
			"SessionCreate": true,
		}
		if cfg.UserName != "" {
			svcCfg.UserName = cfg.UserName
		}
	case "windows":
		svcCfg.Option = service.KeyValue{
			"OnFailure":      "restart",
			"OnFailureDelay": "5s",
		}
	}

	return svcCfg
}

// NewService builds a service handle for the given program and config.
func NewService(prg *Program, cfg *Config) (service.Service, error) {
	cfg.ApplyDefaults()
	return service.New(prg, newServiceConfig(cfg))
}

// Install registers the service with the platform manager.
func Install(cfg *Config, force bool) error {
	svc, err := NewService(&Program{ConfigPath: cfg.ConfigPath}, cfg)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	status, err := svc.Status()
	if err == nil {
		switch status {
		case service.StatusRunning:
			if !force {
				return fmt.Errorf("service %q is running; stop it first or use --force", cfg.Name)
			}
			if err := svc.Stop(); err != nil {
				log.Warn().Err(err).Msg("failed to stop service")
			}
			if err := svc.Uninstall(); err != nil {
				log.Warn().Err(err).Msg("failed to uninstall service")
			}
		case service.StatusStopped:
			if !force {
				return fmt.Errorf("service %q already installed; use --force to reinstall", cfg.Name)
			}
			if err := svc.Uninstall(); err != nil {
				log.Warn().Err(err).Msg("failed to uninstall service")
			}
		}
	}

	if err := svc.Install(); err != nil {
		return fmt.Errorf("install service: %w", err)
	}
	return nil
}

// Uninstall stops the service if needed and removes it.
func Uninstall(cfg *Config) error {
	svc, err := NewService(&Program{ConfigPath: cfg.ConfigPath}, cfg)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	if status, _ := svc.Status(); status == service.StatusRunning {
		if err := svc.Stop(); err != nil {
			log.Warn().Err(err).Msg("failed to stop service")
		}
	}

	if err := svc.Uninstall(); err != nil {
		return fmt.Errorf("uninstall service: %w", err)
	}
	return nil
}

// Start asks the platform manager to start the installed service.
func Start(cfg *Config) error {
	svc, err := NewService(&Program{ConfigPath: cfg.ConfigPath}, cfg)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	if err := svc.Start(); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	return nil
}

// Stop asks the platform manager to stop the installed service.
func Stop(cfg *Config) error {
	svc, err := NewService(&Program{ConfigPath: cfg.ConfigPath}, cfg)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	if err := svc.Stop(); err != nil {
		return fmt.Errorf("stop service: %w", err)
	}
	return nil
}

// Restart restarts the installed service.
func Restart(cfg *Config) error {
	svc, err := NewService(&Program{ConfigPath: cfg.ConfigPath}, cfg)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	if err := svc.Restart(); err != nil {
		return fmt.Errorf("restart service: %w", err)
	}
	return nil
}

// Status queries the installed service's state.
func Status(cfg *Config) (service.Status, error) {
	svc, err := NewService(&Program{ConfigPath: cfg.ConfigPath}, cfg)
	if err != nil {
		return service.StatusUnknown, fmt.Errorf("create service: %w", err)
	}
	return svc.Status()
}

// StatusString renders a service status for humans.
func StatusString(status service.Status) string {
	switch status {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Run hands control to the service manager. Called when the process was
// launched as a service.
func Run(prg *Program, cfg *Config) error {
	svc, err := NewService(prg, cfg)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	return svc.Run()
}

// CheckPrivileges verifies the caller can manage services on this platform.
func CheckPrivileges() error {
	switch runtime.GOOS {
	case "windows":
		// Install will fail with a descriptive error if not elevated.
		return nil
	default:
		if os.Geteuid() != 0 {
			return fmt.Errorf("root privileges required (use sudo)")
		}
		return nil
	}
}

// IsServiceMode reports whether the process was started by the service
// manager (the install adds --service-run to argv).
func IsServiceMode(args []string) bool {
	for _, arg := range args {
		if arg == "--service-run" {
			return true
		}
	}
	return false
}
