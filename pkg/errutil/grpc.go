package errutil

import (
	"context"
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorDomain tags the ErrorInfo detail attached to rejected calls.
const ErrorDomain = "academy.smallbiznis"

// GRPCCode converts the CoreStatus to its closest gRPC status code equivalent.
func (s CoreStatus) GRPCCode() codes.Code {
	switch s {
	case StatusUnauthorized:
		return codes.Unauthenticated
	case StatusForbidden:
		return codes.PermissionDenied
	case StatusNotFound:
		return codes.NotFound
	case StatusTimeout, StatusGatewayTimeout:
		return codes.DeadlineExceeded
	case StatusUnprocessableEntity:
		return codes.FailedPrecondition
	case StatusUnsupportedMediaType, StatusBadRequest, StatusValidationFailed:
		return codes.InvalidArgument
	case StatusConflict:
		return codes.Aborted
	case StatusTooManyRequests:
		return codes.ResourceExhausted
	case StatusClientClosedRequest:
		return codes.Canceled
	case StatusNotImplemented:
		return codes.Unimplemented
	case StatusBadGateway, StatusServiceUnavailable:
		return codes.Unavailable
	case StatusInternal:
		return codes.Internal
	default:
		return codes.Unknown
	}
}

// ToGRPCError turns an error into a gRPC status. Rejections keep their reason in an
// ErrorInfo detail so clients can branch on LicenseNotActive, SessionNotOpen and friends.
func ToGRPCError(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	var base BaseError
	if !errors.As(err, &base) {
		return status.Error(codes.Internal, "internal error")
	}

	msg := base.Message
	if base.Code == StatusInternal || msg == "" {
		// persistence faults are reported generically
		msg = "internal error"
	}

	st := status.New(base.Code.GRPCCode(), msg)
	if base.Reason == "" {
		return st.Err()
	}

	info := &errdetails.ErrorInfo{Reason: string(base.Reason), Domain: ErrorDomain}
	if len(base.Details) > 0 {
		info.Metadata = make(map[string]string, len(base.Details))
		for _, d := range base.Details {
			info.Metadata[d.Field] = d.Message
		}
	}
	if withInfo, err := st.WithDetails(info); err == nil {
		return withInfo.Err()
	}
	return st.Err()
}

// ReasonFromStatus reads back the reason attached by ToGRPCError.
func ReasonFromStatus(err error) Reason {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == ErrorDomain {
			return Reason(info.GetReason())
		}
	}
	return ""
}
