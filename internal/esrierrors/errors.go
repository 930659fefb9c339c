// Package esrierrors defines the fatal/retriable error taxonomy shared by every core
// component: the HTTP Requester, the Strategy Selector, and the Page Runner all raise one of
// these so a consumer loop can switch on error kind instead of parsing message strings.
package esrierrors

import "fmt"

// Kind discriminates the error taxonomy.
type Kind int

const (
	// KindTimeout: socket timed out after all retries.
	KindTimeout Kind = iota
	// KindParse: response body is not JSON.
	KindParse
	// KindDownload: HTTP non-200, an Esri error payload, or a structural anomaly.
	KindDownload
	// KindMissingOID: the selected strategy requires an OID field and none could be found.
	KindMissingOID
	// KindTransportRetryable: a transport error the Page Runner will retry internally; only
	// escalated to KindDownload once retries are exhausted.
	KindTransportRetryable
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "Timeout"
	case KindParse:
		return "Parse"
	case KindDownload:
		return "Download"
	case KindMissingOID:
		return "MissingOID"
	case KindTransportRetryable:
		return "TransportRetryable"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type carried through the core. Label identifies which
// operation raised it (e.g. "fetch metadata", "query page 3").
type Error struct {
	Kind    Kind
	Label   string
	Message string
	Details string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Label, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, esrierrors.Timeout) work against a *Error of the matching Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel values for errors.Is comparisons; only Kind is compared.
var (
	Timeout            = &Error{Kind: KindTimeout}
	Parse              = &Error{Kind: KindParse}
	Download           = &Error{Kind: KindDownload}
	MissingOID         = &Error{Kind: KindMissingOID}
	TransportRetryable = &Error{Kind: KindTransportRetryable}
)

// NewTimeout builds a Timeout error for the given label.
func NewTimeout(label string, cause error) *Error {
	return &Error{Kind: KindTimeout, Label: label, Message: "request timed out after all retries", Err: cause}
}

// NewParse builds a Parse error for the given label.
func NewParse(label string, cause error) *Error {
	return &Error{Kind: KindParse, Label: label, Message: "response body is not valid JSON", Err: cause}
}

// NewDownload builds a Download error for the given label and HTTP status (0 if not
// HTTP-status-shaped, e.g. an Esri error payload on a 200 response).
func NewDownload(label string, status int, message, details string) *Error {
	return &Error{Kind: KindDownload, Label: label, Status: status, Message: message, Details: details}
}

// NewMissingOID builds a MissingOID error.
func NewMissingOID(label string) *Error {
	return &Error{Kind: KindMissingOID, Label: label, Message: "no object ID field could be identified for this layer"}
}

// NewTransportRetryable wraps a transient transport error for the runner's retry loop.
func NewTransportRetryable(label string, cause error) *Error {
	return &Error{Kind: KindTransportRetryable, Label: label, Message: "transient transport error", Err: cause}
}
