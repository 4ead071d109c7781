// Package defs holds the error-kind vocabulary shared by every kernel
// mid-layer component. The convention — a negative-valued integer, zero
// meaning success — matches how biscuit's own defs package represents
// Err_t throughout biscuit/src/vm/as.go (-defs.EFAULT, -defs.ENOMEM, ...).
package defs

import "fmt"

// Err_t is a kernel error code. Zero means success; all error values are
// negative, matching the xv6/biscuit convention so call sites can write
// `if err != 0`.
type Err_t int

// Error implements the error interface so Err_t composes with ordinary Go
// error handling (errors.Is, fmt.Errorf("%w", ...)) at the internal/kapi
// boundary, the one place this codebase talks to non-syscall-numbered
// callers.
func (e Err_t) Error() string {
	if e == 0 {
		return "success"
	}
	if msg, ok := errNames[e]; ok {
		return msg
	}
	return fmt.Sprintf("err_t(%d)", int(e))
}

// EBUSY is not present in the xv6 lineage this vocabulary otherwise follows:
// bind racing unbind needs a distinguishable Go error even though xv6 folds
// that case into a bare -1.
const (
	ENONE      Err_t = 0
	ENOTBOUND  Err_t = -1
	EALREADY   Err_t = -2
	EOVERSIZE  Err_t = -3
	EFAULT     Err_t = -4
	ENOMEM     Err_t = -5
	ENOBUFFER  Err_t = -6
	EIO        Err_t = -7
	ECANCELLED Err_t = -8
	EINVAL     Err_t = -9
	EBUSY      Err_t = -10
)

var errNames = map[Err_t]string{
	ENOTBOUND:  "port not bound",
	EALREADY:   "port already bound",
	EOVERSIZE:  "frame exceeds page size",
	EFAULT:     "bad user pointer",
	ENOMEM:     "no memory",
	ENOBUFFER:  "buffer cache exhausted",
	EIO:        "i/o error",
	ECANCELLED: "operation cancelled",
	EINVAL:     "invalid argument",
	EBUSY:      "resource busy",
}
