package domain

import "errors"

// Sentinel results shared between data sources and the update pipeline.
// These are outcomes, not faults: callers are expected to branch on them
// with errors.Is rather than abort a run.
var (
	// ErrNoMarketPermissions means the account has no market-data
	// entitlement for the contract. This must not be confused with "no
	// data exists": it is fixable on the account side, so callers should
	// neither retry aggressively nor write the contract off permanently.
	ErrNoMarketPermissions = errors.New("no market data permissions")

	// ErrMissingData means the source has no history for the contract.
	ErrMissingData = errors.New("no historical data available")

	// ErrUnknownInstrument means the source does not carry the instrument
	// at all.
	ErrUnknownInstrument = errors.New("instrument not provided by source")
)
