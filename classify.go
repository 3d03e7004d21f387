package dbpool

import (
	"errors"
	"strings"

	"github.com/relaypool/dbpool/driver"
)

// Classification is the outcome of running Classify over a driver error.
type Classification int

const (
	// Application is the fallback classification: the connection is
	// fine, the caller should see the error.
	Application Classification = iota
	// NoData signals an empty-result condition; the connection is fine.
	NoData
	// Communication means the physical connection is suspect and must be
	// retired.
	Communication
	// System means a system-level failure occurred; the connection must
	// be retired.
	System
)

func (c Classification) String() string {
	switch c {
	case NoData:
		return "NoData"
	case Communication:
		return "Communication"
	case System:
		return "System"
	default:
		return "Application"
	}
}

// maxCauseHops bounds how far Classify walks a chained-cause list, mirroring
// the reference SQLExceptionMapper's fixed loop bound of 10.
const maxCauseHops = 10

// communicationStateCodes are exact-match SQL states that indicate a
// communication failure, ported verbatim from the reference mapper.
var communicationStateCodes = map[string]struct{}{
	"01002": {}, "66000": {}, "69000": {}, "57P01": {}, "57P02": {},
	"57P03": {}, "JZ0C0": {}, "JZ0C1": {},
}

// communicationErrorCodes are exact-match numeric vendor codes indicating a
// communication failure.
var communicationErrorCodes = map[int]struct{}{
	2399: {}, 500150: {},
}

// systemStateCodes are exact-match SQL states indicating a system failure.
var systemStateCodes = map[string]struct{}{
	"0A000": {}, "60000": {}, "61000": {},
}

// systemErrorCodes are exact-match numeric vendor codes indicating a system
// failure.
var systemErrorCodes = map[int]struct{}{
	600: {},
}

var communicationCategories = map[driver.ErrorCategory]struct{}{
	driver.CategoryTimeout:                 {},
	driver.CategoryRecoverable:             {},
	driver.CategoryInvalidAuthorization:    {},
	driver.CategoryNonTransientConnection:  {},
	driver.CategoryTransientConnection:     {},
}

var systemCategories = map[driver.ErrorCategory]struct{}{
	driver.CategoryNonTransient:      {},
	driver.CategoryTransactionRollback: {},
}

// Classify maps a driver error to one of {NoData, Communication, System,
// Application}. It walks up to maxCauseHops links of the error's cause
// chain via errors.Unwrap and returns the first non-Application
// classification it finds; otherwise Application.
//
// The rule order, evaluated per hop, is:
//  1. state-code prefix "02"                              -> NoData
//  2. state-code prefix "08", or in communicationStateCodes,
//     or numeric code in communicationErrorCodes,
//     or category in communicationCategories               -> Communication
//  3. state-code in systemStateCodes, or numeric code in
//     systemErrorCodes, or category in systemCategories     -> System
//  4. otherwise, move to the next cause
func Classify(err error) Classification {
	current := err

	for hop := 0; hop < maxCauseHops && current != nil; hop++ {
		var de driver.DriverError
		if errors.As(current, &de) {
			state := de.SQLState()
			code := de.Code()
			category := de.Category()

			if strings.HasPrefix(state, "02") {
				return NoData
			}

			if strings.HasPrefix(state, "08") {
				return Communication
			}
			if _, ok := communicationStateCodes[state]; ok {
				return Communication
			}
			if _, ok := communicationErrorCodes[code]; ok {
				return Communication
			}
			if _, ok := communicationCategories[category]; ok {
				return Communication
			}

			if _, ok := systemStateCodes[state]; ok {
				return System
			}
			if _, ok := systemErrorCodes[code]; ok {
				return System
			}
			if _, ok := systemCategories[category]; ok {
				return System
			}
		}

		current = errors.Unwrap(current)
	}

	return Application
}

// classificationError turns a Classification into the corresponding
// sentinel error, used when a data-access failure is surfaced to a caller
// after classification.
func classificationError(c Classification, cause error) error {
	switch c {
	case NoData:
		return errWrap(ErrNoData, cause)
	case Communication:
		return errWrap(ErrDataAccessCommunication, cause)
	case System:
		return errWrap(ErrDataAccessSystem, cause)
	default:
		return errWrap(ErrDataAccessApplication, cause)
	}
}
