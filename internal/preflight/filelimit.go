package preflight

import (
	"fmt"
	"syscall"
)

// MinFileDescriptors is the descriptor limit below which serve may run out
// of handles.
const MinFileDescriptors = 256

// CheckFileDescriptors compares the soft RLIMIT_NOFILE against what a
// serving process keeps open while it watches the index directory and
// reloads it in the background.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{
		Name: "file_descriptors",
	}

	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("cannot read the open-file limit: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("open-file limit %d (serve wants at least %d)", rLimit.Cur, MinFileDescriptors)
	if rLimit.Cur < MinFileDescriptors {
		result.Status = StatusWarn
		result.Details = fmt.Sprintf("raise it before 'hybridrag serve --watch', e.g. 'ulimit -n %d' (hard limit %d)",
			min(uint64(1024), uint64(rLimit.Max)), rLimit.Max)
		return result
	}
	result.Status = StatusPass
	return result
}
