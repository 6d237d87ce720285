package engine

import (
	"errors"

	"github.com/quillsign/pdfsign/keys"
	"github.com/quillsign/pdfsign/pdf/reader"
	"github.com/quillsign/pdfsign/pdf/writer"
	"github.com/quillsign/pdfsign/sign/cms"
	"github.com/quillsign/pdfsign/sign/fields"
)

// The engine surfaces the error taxonomy of the underlying packages as
// aliases so callers can errors.Is against one import.
var (
	ErrEmptyInput         = reader.ErrEmptyInput
	ErrTooSmall           = reader.ErrTooSmall
	ErrInvalidHeader      = reader.ErrInvalidHeader
	ErrUnsupportedVersion = reader.ErrUnsupportedVersion
	ErrMissingTrailer     = reader.ErrMissingTrailer
	ErrOutOfRange         = reader.ErrOutOfRange
	ErrMemoryBudget       = reader.ErrMemoryBudget

	ErrDuplicateFieldName  = fields.ErrDuplicateFieldName
	ErrInvalidPageIndex    = fields.ErrInvalidPageIndex
	ErrPlaceholderTooSmall = writer.ErrPlaceholderTooSmall

	ErrMalformedCertificate   = keys.ErrMalformedCertificate
	ErrMalformedKey           = keys.ErrMalformedKey
	ErrCertificateExpired     = keys.ErrCertificateExpired
	ErrCertificateNotYetValid = keys.ErrCertificateNotYetValid
	ErrUnsupportedAlgorithm   = keys.ErrUnsupportedAlgorithm

	ErrSigningFailed = cms.ErrSigningFailed

	// ErrIndexOutOfRange is returned for a signature index past the
	// document's signature list.
	ErrIndexOutOfRange = errors.New("signature index out of range")
	// ErrFieldAlreadySigned is returned when signing targets a field
	// that already holds a signature.
	ErrFieldAlreadySigned = errors.New("signature field already signed")
	// ErrNotImplemented marks operations the engine recognizes but does
	// not support, such as rendering visible signature appearances.
	ErrNotImplemented = errors.New("not implemented")
)
