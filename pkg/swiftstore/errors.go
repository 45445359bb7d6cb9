package swiftstore

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ncw/swift/v2"
	"github.com/pkg/errors"

	"github.com/dashjay/obspath/pkg/obserr"
)

// statusTokenExpired is sent by some swift proxies when a cached token has
// expired mid request.
const statusTokenExpired = 498

// normalizeError maps a swift client error from op on container/object to
// the shared taxonomy using the HTTP status only.
func normalizeError(err error, op, container, object string) error {
	if err == nil {
		return nil
	}
	var oe *obserr.Error
	if errors.As(err, &oe) {
		return err
	}

	var where string
	if container != "" {
		where = "Container: " + container
	}
	if object != "" {
		where += " Object: " + object
	}

	var se *swift.Error
	if errors.As(err, &se) {
		msg := strings.TrimSpace(fmt.Sprintf("%s: %s (%d) %s", op, se.Text, se.StatusCode, where))
		return obserr.New(classify(se.StatusCode), msg, err)
	}
	return obserr.New(obserr.KindRemote, strings.TrimSpace(fmt.Sprintf("%s: %s %s", op, err.Error(), where)), err)
}

func classify(status int) obserr.Kind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return obserr.KindUnauthorized
	case http.StatusNotFound:
		return obserr.KindNotFound
	case http.StatusConflict:
		return obserr.KindConflict
	case http.StatusUnprocessableEntity:
		// checksum mismatch on a get or put
		return obserr.KindInconsistentDownload
	case http.StatusTooManyRequests, statusTokenExpired, http.StatusServiceUnavailable:
		return obserr.KindUnavailable
	}
	return obserr.KindRemote
}
