package ports

import (
	"fmt"
	"net"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// maxAttempts bounds the search for a free port
const maxAttempts = 100

// Conflict describes a listen address that is already taken
type Conflict struct {
	Addr string
	Port int
	// PID of the listener, 0 when it could not be found
	PID int
}

func (c *Conflict) Error() string {
	if c.PID > 0 {
		return fmt.Sprintf("address %s is in use by PID %d", c.Addr, c.PID)
	}
	return fmt.Sprintf("address %s is in use", c.Addr)
}

// SplitAddr parses host:port. A bare port is accepted as ":port".
func SplitAddr(addr string) (host string, port int, err error) {
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	host, p, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err = strconv.Atoi(p)
	if err != nil || port < 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in %q", addr)
	}
	return host, port, nil
}

// IsAvailable checks if addr can be bound
func IsAvailable(addr string) bool {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	listener.Close()
	return true
}

// Check returns a *Conflict when addr is taken
func Check(addr string) error {
	host, port, err := SplitAddr(addr)
	if err != nil {
		return err
	}
	addr = net.JoinHostPort(host, strconv.Itoa(port))
	if IsAvailable(addr) {
		return nil
	}
	return &Conflict{Addr: addr, Port: port, PID: ProcessOnPort(port)}
}

// ProcessOnPort returns the PID of a process listening on port.
// Returns 0 if no process is found or if the lookup fails.
func ProcessOnPort(port int) int {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin", "linux":
		cmd = exec.Command("lsof", "-i", fmt.Sprintf(":%d", port), "-t", "-sTCP:LISTEN")
	case "windows":
		cmd = exec.Command("cmd", "/C", fmt.Sprintf("netstat -ano | findstr :%d | findstr LISTENING", port))
	default:
		return 0
	}

	output, err := cmd.Output()
	if err != nil {
		return 0
	}

	pidStr := strings.TrimSpace(string(output))
	if pidStr == "" {
		return 0
	}

	// For Windows, the PID is the last column
	if runtime.GOOS == "windows" {
		fields := strings.Fields(pidStr)
		if len(fields) > 0 {
			pidStr = fields[len(fields)-1]
		}
	} else {
		// lsof -t may print several PIDs, one per line
		pidStr, _, _ = strings.Cut(pidStr, "\n")
	}

	pid, err := strconv.Atoi(strings.TrimSpace(pidStr))
	if err != nil {
		return 0
	}
	return pid
}

// Shift returns addr unchanged when it is free, otherwise the same host
// with the next free port above it.
func Shift(addr string) (string, bool, error) {
	host, port, err := SplitAddr(addr)
	if err != nil {
		return "", false, err
	}
	if port == 0 || IsAvailable(net.JoinHostPort(host, strconv.Itoa(port))) {
		return net.JoinHostPort(host, strconv.Itoa(port)), false, nil
	}
	for p := port + 1; p < port+1+maxAttempts && p <= 65535; p++ {
		candidate := net.JoinHostPort(host, strconv.Itoa(p))
		if IsAvailable(candidate) {
			return candidate, true, nil
		}
	}
	return "", true, fmt.Errorf("could not find an available port after %d", port)
}
