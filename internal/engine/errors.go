package engine

import (
	"github.com/federata/federata/internal/broker"
	"github.com/federata/federata/internal/extract"
	"github.com/federata/federata/internal/instrument"
	"github.com/federata/federata/internal/introspect"
	"github.com/federata/federata/internal/merge"
	"github.com/federata/federata/internal/payload"
)

// The engine's failure kinds, re-exported from the packages that raise
// them so callers can errors.Is against one taxonomy
var (
	ErrConnectionFailure        = broker.ErrConnectionFailure
	ErrIntrospectionFailure     = introspect.ErrIntrospectionFailure
	ErrCycleDetected            = introspect.ErrCycleDetected
	ErrInstrumentationFailure   = instrument.ErrInstrumentationFailure
	ErrInvalidDatabaseStructure = instrument.ErrInvalidDatabaseStructure
	ErrExtractFailure           = extract.ErrExtractFailure
	ErrPayloadMismatch          = merge.ErrPayloadMismatch
	ErrApplyFailure             = merge.ErrApplyFailure
	ErrDecryptionFailure        = payload.ErrDecryptionFailure
	ErrArchiveReadFailure       = payload.ErrArchiveReadFailure
	ErrHashMismatch             = payload.ErrHashMismatch
)
