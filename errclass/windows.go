//go:build windows

//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/common/errclass/windows.go
//

package errclass

import (
	"syscall"

	"golang.org/x/sys/windows"
)

const (
	errnoEADDRNOTAVAIL   = windows.WSAEADDRNOTAVAIL
	errnoEADDRINUSE      = windows.WSAEADDRINUSE
	errnoECONNABORTED    = windows.WSAECONNABORTED
	errnoECONNREFUSED    = windows.WSAECONNREFUSED
	errnoECONNRESET      = windows.WSAECONNRESET
	errnoEHOSTUNREACH    = windows.WSAEHOSTUNREACH
	errnoEINVAL          = windows.WSAEINVAL
	errnoEINTR           = windows.WSAEINTR
	errnoENETDOWN        = windows.WSAENETDOWN
	errnoENETUNREACH     = windows.WSAENETUNREACH
	errnoENOBUFS         = windows.WSAENOBUFS
	errnoENOTCONN        = windows.WSAENOTCONN
	errnoEPROTONOSUPPORT = windows.WSAEPROTONOSUPPORT
	errnoETIMEDOUT       = windows.WSAETIMEDOUT
)

// classifyErrno maps a platform [syscall.Errno] to a categorical label.
//
// Returns "" when the errno has no dedicated label (caller falls back to [EGENERIC]).
func classifyErrno(errno syscall.Errno) string {
	switch windows.Errno(errno) {
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
