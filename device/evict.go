package device

import (
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Evictor terminates other processes holding a device open
type Evictor interface {
	Evict(path string) ([]int, error)
}

// LsofEvictor finds holders with lsof and kills them with SIGKILL. The calling
// process is never killed.
type LsofEvictor struct {
	// Command defaults to "lsof"
	Command string
}

var _ Evictor = LsofEvictor{}

func (e LsofEvictor) Evict(path string) ([]int, error) {
	cmd := e.Command
	if cmd == "" {
		cmd = "lsof"
	}

	out, err := exec.Command(cmd, "-t", path).Output()
	if err != nil {
		// lsof exits non-zero when nothing holds the file
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, nil
		}
		return nil, fmt.Errorf("error listing holders of %s: %w", path, err)
	}

	return killAll(parsePIDs(string(out)), unix.Getpid())
}

func parsePIDs(out string) []int {
	var pids []int
	for _, field := range strings.Fields(out) {
		pid, err := strconv.Atoi(field)
		if err != nil || pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}

func killAll(pids []int, self int) ([]int, error) {
	var (
		killed []int
		errs   []error
	)
	for _, pid := range pids {
		if pid == self {
			continue
		}
		err := unix.Kill(pid, unix.SIGKILL)
		switch {
		case err == nil:
			killed = append(killed, pid)
		case errors.Is(err, unix.ESRCH):
		default:
			errs = append(errs, fmt.Errorf("error killing %d: %w", pid, err))
		}
	}
	return killed, errors.Join(errs...)
}

type noopEvictor struct{}

var _ Evictor = noopEvictor{}

// Evict implements Evictor.
func (noopEvictor) Evict(string) ([]int, error) {
	return nil, nil
}

// NoEviction returns an Evictor that leaves other holders alone
func NoEviction() Evictor {
	return noopEvictor{}
}
