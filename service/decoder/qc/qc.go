// Package qc is the catalogue of data-quality tags attached to decoded events and the rules
// that fold them into a status.
package qc

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Tier says which pipeline stage raised a tag.
type Tier int

const (
	// TierNormalization tags make the whole transaction unprocessable.
	TierNormalization Tier = 1
	// TierParse tags come from the router, the parsers and the resolver.
	TierParse Tier = 2
	// TierEnrich tags come from the enrichers.
	TierEnrich Tier = 3
)

// Severity decides how a tag affects the event status.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

// Status is the folded quality of an event.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusError   Status = "error"
)

// Tag is a machine-readable data-quality annotation.
type Tag string

const (
	NormalizationFailed Tag = "NORMALIZATION_FAILED"

	UnparsedInstruction Tag = "UNPARSED_INSTRUCTION"
	ParseError          Tag = "PARSE_ERROR"
	ResolverPanic       Tag = "RESOLVER_PANIC"
	RouteNotChained     Tag = "ROUTE_NOT_CHAINED"
	DeclaredAmounts     Tag = "DECLARED_AMOUNTS"
	SwapInOutMissing    Tag = "SWAP_IN_OUT_MISSING"
	TransactionFailed   Tag = "TRANSACTION_FAILED"

	BalanceBasedAmounts     Tag = "BALANCE_BASED_AMOUNTS"
	MissingTokenBalances    Tag = "MISSING_TOKEN_BALANCES"
	MissingPreBalances      Tag = "MISSING_PRE_BALANCES"
	MissingPostBalances     Tag = "MISSING_POST_BALANCES"
	MintMismatch            Tag = "MINT_MISMATCH"
	BalanceChangeMismatch   Tag = "BALANCE_CHANGE_MISMATCH"
	PoolUnverified          Tag = "POOL_UNVERIFIED"
	VaultMismatch           Tag = "VAULT_MISMATCH"
	ComputeUnitsUnavailable Tag = "COMPUTE_UNITS_UNAVAILABLE"
	PriceDump               Tag = "PRICE_DUMP"
	EnricherPanic           Tag = "ENRICHER_PANIC"
)

// Entry describes one catalogued tag.
type Entry struct {
	Tier        Tier
	Severity    Severity
	Description string
}

var catalog = map[Tag]Entry{
	NormalizationFailed: {TierNormalization, SeverityError, "the envelope could not be normalized"},

	UnparsedInstruction: {TierParse, SeverityInfo, "an instruction belongs to an unknown program or discriminator"},
	ParseError:          {TierParse, SeverityWarning, "a known instruction carried a payload that did not decode"},
	ResolverPanic:       {TierParse, SeverityError, "the resolver failed and every group was emitted as UNKNOWN"},
	RouteNotChained:     {TierParse, SeverityWarning, "the hops of a route do not chain output mint to input mint"},
	DeclaredAmounts:     {TierParse, SeverityInfo, "swap amounts come from instruction arguments, not transfers"},
	SwapInOutMissing:    {TierParse, SeverityWarning, "one side of the swap could not be determined"},
	TransactionFailed:   {TierParse, SeverityInfo, "the transaction failed on chain"},

	BalanceBasedAmounts:     {TierEnrich, SeverityInfo, "net changes for a non-standard mint come from balance snapshots"},
	MissingTokenBalances:    {TierEnrich, SeverityWarning, "a mint's net change could not be computed from snapshots"},
	MissingPreBalances:      {TierEnrich, SeverityError, "vault pre-balances are missing, no price impact"},
	MissingPostBalances:     {TierEnrich, SeverityError, "vault post-balances are missing, no price impact"},
	MintMismatch:            {TierEnrich, SeverityError, "vault mints do not match the swap mints"},
	BalanceChangeMismatch:   {TierEnrich, SeverityError, "vault deltas contradict the swap direction"},
	PoolUnverified:          {TierEnrich, SeverityWarning, "the vaults are not in the pool registry"},
	VaultMismatch:           {TierEnrich, SeverityWarning, "the vaults do not match the registered pool"},
	ComputeUnitsUnavailable: {TierEnrich, SeverityInfo, "the transaction has no compute unit metadata"},
	PriceDump:               {TierEnrich, SeverityInfo, "the swap price dropped sharply against the previous swap"},
	EnricherPanic:           {TierEnrich, SeverityError, "an enricher failed and its fields were left empty"},
}

// Lookup returns the catalogue entry of a tag.
func Lookup(t Tag) (Entry, bool) {
	e, ok := catalog[t]
	return e, ok
}

// Catalog returns every catalogued tag in name order.
func Catalog() []Tag {
	out := make([]Tag, 0, len(catalog))
	for t := range catalog {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Severity of a tag; uncatalogued tags count as warnings.
func (t Tag) Severity() Severity {
	if e, ok := catalog[t]; ok {
		return e.Severity
	}
	return SeverityWarning
}

// Tier of a tag; uncatalogued tags count as enrichment tags.
func (t Tag) Tier() Tier {
	if e, ok := catalog[t]; ok {
		return e.Tier
	}
	return TierEnrich
}

// StatusOf folds tags into a status: error beats partial beats success.
func StatusOf(tags []Tag) Status {
	status := StatusSuccess
	for _, t := range tags {
		switch t.Severity() {
		case SeverityError:
			return StatusError
		case SeverityWarning:
			status = StatusPartial
		}
	}
	return status
}

// Tags is an ordered set of tags.
type Tags []Tag

// Add appends tags not already present.
func (ts *Tags) Add(tags ...Tag) {
	for _, t := range tags {
		if !slices.Contains(*ts, t) {
			*ts = append(*ts, t)
		}
	}
}

// Has reports whether the set contains t.
func (ts Tags) Has(t Tag) bool {
	return slices.Contains(ts, t)
}

// MarshalJSON renders an empty set as [] rather than null.
func (ts Tags) MarshalJSON() ([]byte, error) {
	if ts == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Tag(ts))
}

func (s Status) Validate() error {
	switch s {
	case StatusSuccess, StatusPartial, StatusError:
		return nil
	}
	return fmt.Errorf("unknown qc status %q", s)
}
