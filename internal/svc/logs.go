package svc

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
)

// LogOptions configures service log viewing.
type LogOptions struct {
	ServiceName string
	Follow      bool
	Lines       int
}

// ViewLogs displays the installed service's logs with the platform's
// native tooling.
func ViewLogs(opts LogOptions) error {
	if opts.ServiceName == "" {
		opts.ServiceName = Name
	}
	if opts.Lines <= 0 {
		opts.Lines = 50
	}

	switch runtime.GOOS {
	case "linux":
		return viewLogsLinux(opts)
	case "darwin":
		return viewLogsDarwin(opts)
	case "windows":
		fmt.Println("Open Event Viewer (eventvwr.msc) > Windows Logs > Application")
		fmt.Printf("and filter by source %q.\n", opts.ServiceName)
		return nil
	default:
		return fmt.Errorf("log viewing not supported on %s", runtime.GOOS)
	}
}

// viewLogsLinux reads the systemd journal.
func viewLogsLinux(opts LogOptions) error {
	args := []string{"-u", opts.ServiceName, "-n", strconv.Itoa(opts.Lines), "--no-pager"}
	if opts.Follow {
		args = append(args, "-f")
	}

	cmd := exec.Command("journalctl", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	return cmd.Run()
}

// viewLogsDarwin tails the log files launchd writes under /var/log.
func viewLogsDarwin(opts LogOptions) error {
	outLog := fmt.Sprintf("/var/log/%s.out.log", opts.ServiceName)
	errLog := fmt.Sprintf("/var/log/%s.err.log", opts.ServiceName)

	if opts.Follow {
		cmd := exec.Command("tail", "-f", outLog, errLog)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Stdin = os.Stdin
		return cmd.Run()
	}

	shown := false
	for _, path := range []string{errLog, outLog} {
		if !fileExists(path) {
			continue
		}
		shown = true
		fmt.Printf("=== %s ===\n", path)
		cmd := exec.Command("tail", "-n", strconv.Itoa(opts.Lines), path)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		_ = cmd.Run()
	}

	if !shown {
		fmt.Printf("No log files found for service %q (looked for %s and %s)\n",
			opts.ServiceName, outLog, errLog)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
