package fetcher

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/JakeFAU/fetchcore/internal/crawler"
)

// Failure classes reported by Classify.
const (
	ClassOK          = "ok"
	ClassCanceled    = "canceled"
	ClassTimeout     = "timeout"
	ClassReset       = "reset"
	ClassRefused     = "refused"
	ClassUnreachable = "unreachable"
	ClassDNS         = "dns"
	ClassTLS         = "tls"
	ClassEOF         = "eof"
	ClassStatus      = "status"
	ClassNilResponse = "nil_response"
	ClassConnect     = "connect"
	ClassInvalidURL  = "invalid_url"
	ClassOther       = "other"
)

// Classify maps an error to a failure class for logs and metrics. Every
// class except canceled is retried by the exchange.
func Classify(err error) string {
	switch {
	case err == nil:
		return ClassOK
	case errors.Is(err, context.Canceled):
		return ClassCanceled
	case errors.Is(err, crawler.ErrBadStatus):
		return ClassStatus
	case errors.Is(err, crawler.ErrNilResponse):
		return ClassNilResponse
	case errors.Is(err, crawler.ErrInvalidURL):
		return ClassInvalidURL
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}

	switch {
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return ClassReset
	case errors.Is(err, syscall.ECONNREFUSED):
		return ClassRefused
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return ClassUnreachable
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return ClassEOF
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ClassDNS
	}
	if isTLSError(err) {
		return ClassTLS
	}
	if errors.Is(err, crawler.ErrConnect) {
		return ClassConnect
	}
	return ClassOther
}

func isTLSError(err error) bool {
	var (
		recordErr tls.RecordHeaderError
		alertErr  tls.AlertError
		verifyErr *tls.CertificateVerificationError
		authErr   x509.UnknownAuthorityError
		hostErr   x509.HostnameError
	)
	return errors.As(err, &recordErr) ||
		errors.As(err, &alertErr) ||
		errors.As(err, &verifyErr) ||
		errors.As(err, &authErr) ||
		errors.As(err, &hostErr)
}
