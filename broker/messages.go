package broker

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/calvinmclean/stringdriver/controller"
)

// Op names a request sent over the socket
type Op string

const (
	OpRelMove   Op = "rel_move"
	OpAbsMove   Op = "abs_move"
	OpReset     Op = "reset"
	OpPositions Op = "positions"
	OpSetParam  Op = "set_param"
	// OpRun asks the owning process's Supervisor to run an operation
	OpRun Op = "run"
)

// Request is one newline-delimited JSON line from a Client
type Request struct {
	Op    Op     `json:"op"`
	Axis  int    `json:"axis"`
	Value int32  `json:"value"`
	Count int    `json:"count,omitempty"`
	Param string `json:"param,omitempty"`

	Operation  string                 `json:"operation,omitempty"`
	Axes       []int                  `json:"axes,omitempty"`
	Thresholds *controller.Thresholds `json:"thresholds,omitempty"`
}

// Response answers exactly one Request
type Response struct {
	OK        bool    `json:"ok"`
	Error     string  `json:"error,omitempty"`
	Positions []int32 `json:"positions,omitempty"`

	// Busy is set when a run was refused because another operation holds
	// the Supervisor
	Busy   bool       `json:"busy,omitempty"`
	Result *RunResult `json:"result,omitempty"`
}

// RunResult carries a controller.Result over the socket
type RunResult struct {
	ID        string    `json:"id"`
	Operation string    `json:"operation"`
	Summary   string    `json:"summary"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
}

func newRunResult(res controller.Result) *RunResult {
	return &RunResult{
		ID:        res.ID,
		Operation: res.Operation.String(),
		Summary:   res.Summary,
		Started:   res.Started,
		Finished:  res.Finished,
	}
}

func (r *RunResult) result(op controller.Operation) controller.Result {
	if r == nil {
		return controller.Result{Operation: op}
	}
	return controller.Result{
		ID:        r.ID,
		Operation: op,
		Summary:   r.Summary,
		Started:   r.Started,
		Finished:  r.Finished,
	}
}

func errorResponse(format string, args ...any) Response {
	return Response{Error: fmt.Sprintf(format, args...)}
}

// Endpoint returns the socket path for the broker owning devicePath. Escaping
// the whole path keeps distinct devices on distinct sockets.
func Endpoint(devicePath string) string {
	return filepath.Join(os.TempDir(), "stringdriver_"+url.PathEscape(devicePath)+".sock")
}
