package probes

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net"
	"strconv"
	"syscall"

	"github.com/gravito-framework/connectty-go/pkg/types"
)

var (
	// ErrParse marks output that could not be interpreted
	ErrParse = errors.New("unparseable probe output")
	// ErrNoData marks a source that answered with nothing usable
	ErrNoData = errors.New("no data")
)

// Classify maps an error to a failure reason
func Classify(err error) types.Reason {
	if err == nil {
		return types.ReasonNotAvailable
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return types.ReasonTimeout
	case errors.Is(err, context.Canceled):
		return types.ReasonCanceled
	case errors.Is(err, fs.ErrPermission):
		return types.ReasonPermissionDenied
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, ErrNoData):
		return types.ReasonNotAvailable
	case errors.Is(err, ErrParse):
		return types.ReasonParseError
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EHOSTUNREACH):
		return types.ReasonNetworkUnreachable
	}

	var numErr *strconv.NumError
	var syntaxErr *json.SyntaxError
	if errors.As(err, &numErr) || errors.As(err, &syntaxErr) {
		return types.ReasonParseError
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return types.ReasonTimeout
		}
		return types.ReasonNetworkUnreachable
	}

	return types.ReasonNotAvailable
}
