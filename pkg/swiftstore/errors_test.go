package swiftstore

import (
	"errors"
	"testing"

	"github.com/ncw/swift/v2"
	"github.com/stretchr/testify/assert"

	"github.com/dashjay/obspath/pkg/obserr"
)

func TestNormalizeError(t *testing.T) {
	cases := []struct {
		err  error
		want obserr.Kind
	}{
		{swift.AuthorizationFailed, obserr.KindUnauthorized},
		{&swift.Error{StatusCode: 403, Text: "Forbidden"}, obserr.KindUnauthorized},
		{swift.ObjectNotFound, obserr.KindNotFound},
		{swift.ContainerNotFound, obserr.KindNotFound},
		{swift.ContainerNotEmpty, obserr.KindConflict},
		{swift.ObjectCorrupted, obserr.KindInconsistentDownload},
		{&swift.Error{StatusCode: 429, Text: "Too Many Requests"}, obserr.KindUnavailable},
		{&swift.Error{StatusCode: 498, Text: "token expired"}, obserr.KindUnavailable},
		{&swift.Error{StatusCode: 503, Text: "Service Unavailable"}, obserr.KindUnavailable},
		{&swift.Error{StatusCode: 500, Text: "Internal Server Error"}, obserr.KindRemote},
		{errors.New("connection reset"), obserr.KindRemote},
	}
	for _, tc := range cases {
		err := normalizeError(tc.err, "get object", "c", "o")
		assert.Equal(t, tc.want, obserr.KindOf(err), "%v", tc.err)
		assert.Contains(t, err.Error(), "Container: c Object: o")
		assert.ErrorIs(t, err, tc.err)
	}

	assert.NoError(t, normalizeError(nil, "get object", "c", "o"))
	already := obserr.New(obserr.KindValidation, "bad", nil)
	assert.Same(t, already, normalizeError(already, "get object", "c", "o"))
}
