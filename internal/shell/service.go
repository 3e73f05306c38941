package shell

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"gantry/internal/logging"
)

// ServiceSpec describes a background process the pipeline needs running
// while the script stage executes (e.g. the server behavior tests hit).
type ServiceSpec struct {
	Name    string
	Command string
	Dir     string
	Shell   string

	// LogFile receives combined output. Empty means discard.
	LogFile string

	// ReadyTCP is an optional host:port readiness probe target.
	ReadyTCP string

	// ReadyTimeout bounds the probe. Zero means 30s.
	ReadyTimeout time.Duration

	// Env holds KEY=VALUE pairs for the service process.
	Env []string
}

// Service is a running background process.
type Service struct {
	spec    ServiceSpec
	cmd     *exec.Cmd
	logFile *os.File

	mu      sync.Mutex
	stopped bool
	waitErr error
	done    chan struct{}
}

// ServiceManager starts and stops the services of one job. Services are
// stopped in reverse start order.
type ServiceManager struct {
	mu       sync.Mutex
	services []*Service
}

// NewServiceManager creates an empty manager.
func NewServiceManager() *ServiceManager {
	return &ServiceManager{}
}

// Start launches a service, redirects its output, and waits for its
// readiness probe when one is configured.
func (m *ServiceManager) Start(spec ServiceSpec) (*Service, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("service %q: empty command", spec.Name)
	}
	shell := spec.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.Command(shell, "-c", spec.Command)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	// Own process group so Stop can kill the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	svc := &Service{spec: spec, cmd: cmd, done: make(chan struct{})}

	if spec.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(spec.LogFile), 0755); err != nil {
			return nil, fmt.Errorf("service %q: create log dir: %w", spec.Name, err)
		}
		f, err := os.OpenFile(spec.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("service %q: open log file: %w", spec.Name, err)
		}
		svc.logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		if svc.logFile != nil {
			_ = svc.logFile.Close()
		}
		return nil, fmt.Errorf("service %q: start: %w", spec.Name, err)
	}
	logging.Service("started %q (pid %d)", spec.Name, cmd.Process.Pid)

	go func() {
		svc.waitErr = cmd.Wait()
		close(svc.done)
	}()

	if spec.ReadyTCP != "" {
		if err := svc.waitReady(); err != nil {
			_ = svc.Stop()
			return nil, err
		}
		logging.Service("%q ready on %s", spec.Name, spec.ReadyTCP)
	}

	m.mu.Lock()
	m.services = append(m.services, svc)
	m.mu.Unlock()
	return svc, nil
}

// waitReady polls the TCP endpoint until it accepts a connection, the
// process exits, or the deadline passes.
func (s *Service) waitReady() error {
	timeout := s.spec.ReadyTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)

	for {
		select {
		case <-s.done:
			return fmt.Errorf("service %q exited before becoming ready: %v", s.spec.Name, s.waitErr)
		default:
		}

		conn, err := net.DialTimeout("tcp", s.spec.ReadyTCP, 250*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("service %q: not ready on %s after %v", s.spec.Name, s.spec.ReadyTCP, timeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// Running reports whether the process is still alive.
func (s *Service) Running() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Name returns the service name.
func (s *Service) Name() string {
	return s.spec.Name
}

// Stop terminates the service's process group, SIGTERM first, SIGKILL
// after a grace period. Safe to call more than once.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	defer func() {
		if s.logFile != nil {
			_ = s.logFile.Close()
		}
	}()

	if !s.Running() {
		return nil
	}

	pgid := -s.cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)

	select {
	case <-s.done:
		logging.Service("stopped %q", s.spec.Name)
		return nil
	case <-time.After(5 * time.Second):
	}

	_ = syscall.Kill(pgid, syscall.SIGKILL)
	<-s.done
	logging.Service("killed %q after grace period", s.spec.Name)
	return nil
}

// StopAll stops every tracked service in reverse start order.
func (m *ServiceManager) StopAll() {
	m.mu.Lock()
	services := m.services
	m.services = nil
	m.mu.Unlock()

	for i := len(services) - 1; i >= 0; i-- {
		if err := services[i].Stop(); err != nil {
			logging.Get(logging.CategoryService).Warn("stop %q: %v", services[i].Name(), err)
		}
	}
}
