// Package errors defines S3-compatible error types used throughout ShelfStore.
package errors

import "fmt"

// S3Error represents an S3 API error with a machine-readable code,
// human-readable message, HTTP status code, and optional extra fields.
type S3Error struct {
	// Code is the S3 error code (e.g., "NoSuchBucket", "NoSuchVersion").
	Code string
	// Message is a human-readable description of the error.
	Message string
	// HTTPStatus is the HTTP status code to return (e.g., 404, 412).
	HTTPStatus int
	// ExtraFields holds additional key-value pairs included in the XML error response.
	ExtraFields map[string]string
}

// Error implements the error interface for S3Error.
func (e *S3Error) Error() string {
	return fmt.Sprintf("S3Error %s (%d): %s", e.Code, e.HTTPStatus, e.Message)
}

// WithExtra returns a copy of the S3Error with the given extra field set.
// The copy gets its own map, so chained calls never mutate the receiver.
func (e *S3Error) WithExtra(key, value string) *S3Error {
	cp := *e
	cp.ExtraFields = make(map[string]string, len(e.ExtraFields)+1)
	for k, v := range e.ExtraFields {
		cp.ExtraFields[k] = v
	}
	cp.ExtraFields[key] = value
	return &cp
}

// WithMessage returns a copy of the S3Error with the message replaced.
// Used when a more specific description helps the caller (e.g., which
// retention transition was rejected) without changing the error code.
func (e *S3Error) WithMessage(msg string) *S3Error {
	cp := *e
	cp.Message = msg
	return &cp
}

// Pre-defined S3 errors for common conditions.
var (
	// ErrAccessDenied is returned when retention or a legal hold blocks an operation.
	ErrAccessDenied = &S3Error{
		Code:       "AccessDenied",
		Message:    "Access Denied",
		HTTPStatus: 403,
	}

	// ErrNoSuchBucket is returned when the specified bucket does not exist.
	ErrNoSuchBucket = &S3Error{
		Code:       "NoSuchBucket",
		Message:    "The specified bucket does not exist",
		HTTPStatus: 404,
	}

	// ErrNoSuchKey is returned when the specified object key does not exist.
	ErrNoSuchKey = &S3Error{
		Code:       "NoSuchKey",
		Message:    "The specified key does not exist",
		HTTPStatus: 404,
	}

	// ErrNoSuchVersion is returned when the specified object version does not exist.
	ErrNoSuchVersion = &S3Error{
		Code:       "NoSuchVersion",
		Message:    "The specified version does not exist",
		HTTPStatus: 404,
	}

	// ErrBucketAlreadyExists is returned when creating a bucket that already exists.
	ErrBucketAlreadyExists = &S3Error{
		Code:       "BucketAlreadyExists",
		Message:    "The requested bucket name is not available",
		HTTPStatus: 409,
	}

	// ErrBucketAlreadyOwnedByYou is returned when creating a bucket you already own.
	ErrBucketAlreadyOwnedByYou = &S3Error{
		Code:       "BucketAlreadyOwnedByYou",
		Message:    "Your previous request to create the named bucket succeeded and you already own it",
		HTTPStatus: 409,
	}

	// ErrBucketNotEmpty is returned when deleting a bucket that still holds
	// object versions or delete markers.
	ErrBucketNotEmpty = &S3Error{
		Code:       "BucketNotEmpty",
		Message:    "The bucket you tried to delete is not empty",
		HTTPStatus: 409,
	}

	// ErrInvalidBucketName is returned when the bucket name is invalid.
	ErrInvalidBucketName = &S3Error{
		Code:       "InvalidBucketName",
		Message:    "The specified bucket is not valid",
		HTTPStatus: 400,
	}

	// ErrNotModified is returned when If-None-Match or If-Modified-Since
	// indicates the caller already holds the current representation.
	ErrNotModified = &S3Error{
		Code:       "NotModified",
		Message:    "Not Modified",
		HTTPStatus: 304,
	}

	// ErrPreconditionFailed is returned when a conditional check fails.
	ErrPreconditionFailed = &S3Error{
		Code:       "PreconditionFailed",
		Message:    "At least one of the pre-conditions you specified did not hold",
		HTTPStatus: 412,
	}

	// ErrMethodNotAllowed is returned when the operation is not valid for the
	// record kind, e.g. fetching a delete marker as content.
	ErrMethodNotAllowed = &S3Error{
		Code:       "MethodNotAllowed",
		Message:    "The specified method is not allowed against this resource",
		HTTPStatus: 405,
	}

	// ErrInvalidBucketState is returned when a bucket state transition is
	// not allowed, e.g. suspending versioning on an Object Lock bucket.
	ErrInvalidBucketState = &S3Error{
		Code:       "InvalidBucketState",
		Message:    "The request is not valid with the current state of the bucket",
		HTTPStatus: 409,
	}

	// ErrInvalidArgument is returned when an argument value is invalid.
	ErrInvalidArgument = &S3Error{
		Code:       "InvalidArgument",
		Message:    "Invalid Argument",
		HTTPStatus: 400,
	}

	// ErrInvalidRetentionPeriod is returned when a retention date is missing,
	// in the past, or would shrink an existing COMPLIANCE period.
	ErrInvalidRetentionPeriod = &S3Error{
		Code:       "InvalidRetentionPeriod",
		Message:    "The retention period specified is invalid",
		HTTPStatus: 400,
	}

	// ErrObjectLockConfigurationNotFound is returned when a bucket has no
	// Object Lock configuration.
	ErrObjectLockConfigurationNotFound = &S3Error{
		Code:       "ObjectLockConfigurationNotFoundError",
		Message:    "Object Lock configuration does not exist for this bucket",
		HTTPStatus: 404,
	}

	// ErrNoSuchObjectLockConfiguration is returned when an object has no
	// retention or legal hold configuration.
	ErrNoSuchObjectLockConfiguration = &S3Error{
		Code:       "NoSuchObjectLockConfiguration",
		Message:    "The specified object does not have an ObjectLock configuration",
		HTTPStatus: 404,
	}

	// ErrInternalError is returned for unexpected internal failures.
	ErrInternalError = &S3Error{
		Code:       "InternalError",
		Message:    "We encountered an internal error. Please try again.",
		HTTPStatus: 500,
	}

	// ErrNotImplemented is returned for S3 operations outside the supported
	// capability surface (ACL semantics, lifecycle, presigning, multipart).
	ErrNotImplemented = &S3Error{
		Code:       "NotImplemented",
		Message:    "A header you provided implies functionality that is not implemented",
		HTTPStatus: 501,
	}

	// ErrMalformedXML is returned when the request body contains invalid XML.
	ErrMalformedXML = &S3Error{
		Code:       "MalformedXML",
		Message:    "The XML you provided was not well-formed or did not validate",
		HTTPStatus: 400,
	}

	// ErrMissingRequestBodyError is returned when the request body is empty but required.
	ErrMissingRequestBodyError = &S3Error{
		Code:       "MissingRequestBodyError",
		Message:    "Request body is empty",
		HTTPStatus: 400,
	}

	// ErrKeyTooLongError is returned when the object key exceeds the maximum length.
	ErrKeyTooLongError = &S3Error{
		Code:       "KeyTooLongError",
		Message:    "Your key is too long",
		HTTPStatus: 400,
	}

	// ErrEntityTooLarge is returned when an upload exceeds the configured
	// maximum object size.
	ErrEntityTooLarge = &S3Error{
		Code:       "EntityTooLarge",
		Message:    "Your proposed upload exceeds the maximum allowed object size",
		HTTPStatus: 400,
	}

	// ErrInvalidRange is returned when a Range header cannot be satisfied.
	ErrInvalidRange = &S3Error{
		Code:       "InvalidRange",
		Message:    "The requested range is not satisfiable",
		HTTPStatus: 416,
	}

	// ErrInvalidRequest is returned for generally invalid requests.
	ErrInvalidRequest = &S3Error{
		Code:       "InvalidRequest",
		Message:    "Invalid Request",
		HTTPStatus: 400,
	}
)
