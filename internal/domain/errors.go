package domain

// errors.go — clasificación central de errores RPC/envío.
//
// Los nodos devuelven los fallos como texto libre; aquí vive el único sitio
// del repo que hace matching de substrings. Todo el resto del código decide
// sobre el enum cerrado ErrorKind, nunca sobre strings.

import (
	"errors"
	"strings"
)

// ErrorKind is the closed classification of chain-facing errors.
type ErrorKind int

const (
	// KindUnknown: sin clasificar, se propaga tal cual.
	KindUnknown ErrorKind = iota
	// KindNetwork: fallo de transporte (conexión, DNS, TLS, socket).
	// El coordinador de failover avanza al siguiente endpoint de inmediato.
	KindNetwork
	// KindTimeout: timeout de envío/recepción. Para un envío de transacción
	// es ambiguo — la tx pudo llegar a la red — y dispara la reconciliación
	// por nonce antes de cualquier reintento.
	KindTimeout
	// KindAlreadyKnown: la red ya tiene esta transacción.
	KindAlreadyKnown
	// KindNonceTooLow: un intento anterior con el mismo nonce ya aterrizó.
	KindNonceTooLow
	// KindInsufficientBalance: fallo de negocio por balance insuficiente.
	KindInsufficientBalance
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindAlreadyKnown:
		return "already_known"
	case KindNonceTooLow:
		return "nonce_too_low"
	case KindInsufficientBalance:
		return "insufficient_balance"
	default:
		return "unknown"
	}
}

var (
	networkVocabulary = []string{
		"connection refused",
		"connection reset",
		"no such host",
		"dns",
		"socket hang up",
		"broken pipe",
		"tls:",
		"handshake failure",
		"unexpected eof",
	}
	timeoutVocabulary = []string{
		"timeout",
		"timed out",
		"deadline exceeded",
		"i/o timeout",
	}
	alreadyKnownVocabulary = []string{
		"already known",
		"alreadyknown",
		"known transaction",
		"transaction already imported",
	}
	nonceTooLowVocabulary = []string{
		"nonce too low",
		"nonce is too low",
		"oldnonce",
	}
	insufficientVocabulary = []string{
		"insufficient balance",
		"insufficient funds",
		"insufficient_balance",
		"exceeds balance",
		"transfer amount exceeds",
	}
)

// Classify maps an error to its ErrorKind by message. Timeout wins over
// network because "i/o timeout" style messages also mention the transport.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	msg := strings.ToLower(err.Error())

	for _, v := range alreadyKnownVocabulary {
		if strings.Contains(msg, v) {
			return KindAlreadyKnown
		}
	}
	for _, v := range nonceTooLowVocabulary {
		if strings.Contains(msg, v) {
			return KindNonceTooLow
		}
	}
	for _, v := range insufficientVocabulary {
		if strings.Contains(msg, v) {
			return KindInsufficientBalance
		}
	}
	for _, v := range timeoutVocabulary {
		if strings.Contains(msg, v) {
			return KindTimeout
		}
	}
	for _, v := range networkVocabulary {
		if strings.Contains(msg, v) {
			return KindNetwork
		}
	}
	return KindUnknown
}

// ErrAllEndpointsFailed marca el agotamiento de todos los endpoints.
// Siempre va envuelto junto al último error subyacente.
var ErrAllEndpointsFailed = errors.New("all rpc endpoints failed")

// ErrTxUntraceable means the sender nonce advanced past the submitted nonce
// but no matching transaction could be located in pending or recent blocks.
// The submission succeeded; the hash is unknown. Never treated as a silent
// success.
var ErrTxUntraceable = errors.New("transaction succeeded but could not be located")

// ErrTxUnconfirmed means the transaction was located in the pending block
// during reconciliation but never confirmed within the receipt wait window.
// The hash is known and included in the wrapping error; it is still not a
// confirmed success.
var ErrTxUnconfirmed = errors.New("transaction located but not confirmed")

// ErrWalletLocked lo devuelve el wallet store cuando no puede firmar.
var ErrWalletLocked = errors.New("wallet store is locked")

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks an error as not retryable by the failover coordinator.
// The submitter uses it after nonce reconciliation resolved a definite
// outcome: re-running the operation would risk a double submission.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err carries the Permanent marker.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
