package registry

import (
	"errors"
	"net/http"

	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry/remote/errcode"

	"github.com/condamirror/condamirror"
)

// ErrRangeNotSupported indicates the registry does not support Range requests.
var ErrRangeNotSupported = errors.New("registry does not support range requests")

// mapError converts ORAS registry errors to condamirror sentinel errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, errdef.ErrNotFound) {
		return condamirror.ErrNotFound
	}

	var errResp *errcode.ErrorResponse
	if errors.As(err, &errResp) {
		switch errResp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return condamirror.ErrAuth
		case http.StatusNotFound:
			return condamirror.ErrNotFound
		}

		for _, e := range errResp.Errors {
			switch e.Code {
			case errcode.ErrorCodeUnauthorized, errcode.ErrorCodeDenied:
				return condamirror.ErrAuth
			case errcode.ErrorCodeNameUnknown,
				errcode.ErrorCodeManifestUnknown,
				errcode.ErrorCodeBlobUnknown:
				return condamirror.ErrNotFound
			}
		}

		// Any other 4xx from the registry is a non-auth rejection.
		if errResp.StatusCode >= 400 && errResp.StatusCode < 500 {
			return condamirror.ErrRegistry
		}
	}

	return err
}
