package s3store

import (
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/pkg/errors"

	"github.com/dashjay/obspath/pkg/obserr"
)

const (
	opGetObject     = "GetObject"
	opRestoreObject = "RestoreObject"

	codeInvalidObjectState       = "InvalidObjectState"
	codeRestoreAlreadyInProgress = "RestoreAlreadyInProgress"
)

// normalizeError maps an SDK error from op on bucket/key to the shared
// taxonomy. Classification uses the HTTP status and the S3 error code only.
func normalizeError(err error, op, bucket, key string) error {
	if err == nil {
		return nil
	}
	var oe *obserr.Error
	if errors.As(err, &oe) {
		return err
	}

	where := fmt.Sprintf("Bucket: %s", bucket)
	if key != "" {
		where += " Key: " + key
	}

	if rf := requestFailure(err); rf != nil {
		msg := fmt.Sprintf("%s: %s %s", op, rf.Message(), where)
		return obserr.New(classify(op, rf.StatusCode(), rf.Code()), msg, err)
	}
	var ae awserr.Error
	if errors.As(err, &ae) {
		return obserr.New(obserr.KindRemote, fmt.Sprintf("%s: %s (%s) %s", op, ae.Message(), ae.Code(), where), err)
	}
	return obserr.New(obserr.KindRemote, fmt.Sprintf("%s: %s %s", op, err.Error(), where), err)
}

// requestFailure finds a RequestFailure, following OrigErr chains which the
// transfer managers use to wrap per part errors.
func requestFailure(err error) awserr.RequestFailure {
	for err != nil {
		if rf, ok := err.(awserr.RequestFailure); ok {
			return rf
		}
		ae, ok := err.(awserr.Error)
		if !ok {
			return nil
		}
		err = ae.OrigErr()
	}
	return nil
}

func classify(op string, status int, code string) obserr.Kind {
	switch status {
	case http.StatusForbidden:
		if code == codeInvalidObjectState {
			switch op {
			case opGetObject:
				return obserr.KindObjectInColdStorage
			case opRestoreObject:
				return obserr.KindAlreadyRestored
			}
		}
		return obserr.KindUnauthorized
	case http.StatusNotFound:
		return obserr.KindNotFound
	case http.StatusConflict:
		if code == codeRestoreAlreadyInProgress {
			return obserr.KindRestoreAlreadyInProgress
		}
		return obserr.KindConflict
	case http.StatusServiceUnavailable:
		return obserr.KindUnavailable
	}
	return obserr.KindRemote
}
