package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRemoteUnavailable indicates a cloud provider could not be reached or
	// rejected the stored platform credentials.
	ErrRemoteUnavailable = errors.New("cloud provider unavailable")
	// ErrRemoteWriteRejected indicates the cloud provider refused a policy
	// write or delete. The local record stays untouched.
	ErrRemoteWriteRejected = errors.New("cloud provider rejected write")
	// ErrUnsupported indicates an operation the platform adapter does not
	// implement for the account's platform.
	ErrUnsupported = errors.New("operation not supported for platform")
)

// UserSafeMessage maps internal errors onto a message safe to return to API
// clients. Unknown errors are deliberately flattened.
func UserSafeMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "resource not found"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid credentials"
	case errors.Is(err, ErrRemoteUnavailable):
		return "cloud provider unavailable"
	case errors.Is(err, ErrRemoteWriteRejected):
		return "cloud provider rejected the change"
	case errors.Is(err, ErrUnsupported):
		return "operation not supported for this platform"
	default:
		return "internal error"
	}
}
