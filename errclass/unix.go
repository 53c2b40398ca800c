//go:build unix

//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/common/errclass/unix.go
//

package errclass

import (
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	errnoEADDRNOTAVAIL   = unix.EADDRNOTAVAIL
	errnoEADDRINUSE      = unix.EADDRINUSE
	errnoECONNABORTED    = unix.ECONNABORTED
	errnoECONNREFUSED    = unix.ECONNREFUSED
	errnoECONNRESET      = unix.ECONNRESET
	errnoEHOSTUNREACH    = unix.EHOSTUNREACH
	errnoEINVAL          = unix.EINVAL
	errnoEINTR           = unix.EINTR
	errnoENETDOWN        = unix.ENETDOWN
	errnoENETUNREACH     = unix.ENETUNREACH
	errnoENOBUFS         = unix.ENOBUFS
	errnoENOTCONN        = unix.ENOTCONN
	errnoEPROTONOSUPPORT = unix.EPROTONOSUPPORT
	errnoETIMEDOUT       = unix.ETIMEDOUT
)

// classifyErrno maps a platform [syscall.Errno] to a categorical label.
//
// Returns "" when the errno has no dedicated label (caller falls back to [EGENERIC]).
func classifyErrno(errno syscall.Errno) string {
	switch unix.Errno(errno) {
	case errnoEADDRNOTAVAIL:
		return EADDRNOTAVAIL
	case errnoEADDRINUSE:
		return EADDRINUSE
	case errnoECONNABORTED:
		return ECONNABORTED
	case errnoECONNREFUSED:
		return ECONNREFUSED
	case errnoECONNRESET:
		return ECONNRESET
	case errnoEHOSTUNREACH:
		return EHOSTUNREACH
	case errnoEINVAL:
		return EINVAL
	case errnoEINTR:
		return EINTR
	case errnoENETDOWN:
		return ENETDOWN
	case errnoENETUNREACH:
		return ENETUNREACH
	case errnoENOBUFS:
		return ENOBUFS
	case errnoENOTCONN:
		return ENOTCONN
	case errnoEPROTONOSUPPORT:
		return EPROTONOSUPPORT
	case errnoETIMEDOUT:
		return ETIMEDOUT
	default:
		return ""
	}
}
