// Package types provides common type definitions shared across the indexer.
package types

import "time"

// ChainType identifies the family of blockchain a contract is deployed on.
// Capabilities offered by a chain adapter are the same across families; the
// implementation behind the interface differs per tag. This is the tagged
// variant named in the design notes: no adapter subclasses another.
type ChainType string

const (
	ChainTypeEVM    ChainType = "evm"
	ChainTypeTron   ChainType = "tron"
	ChainTypeSolana ChainType = "solana"
)

// ContractStatus is the sync state machine's status column.
type ContractStatus string

const (
	StatusPending ContractStatus = "pending"
	StatusSyncing ContractStatus = "syncing"
	StatusSynced  ContractStatus = "synced"
	StatusError   ContractStatus = "error"
)

// AddressRole is the role an address played within a single block.
type AddressRole string

const (
	RoleSender   AddressRole = "sender"
	RoleReceiver AddressRole = "receiver"
	RoleBoth     AddressRole = "both"
)

// Resolution is a metrics aggregation period, expressed in seconds.
type Resolution int64

const (
	Resolution1d    Resolution = 86400
	Resolution10d   Resolution = 864000
	Resolution100d  Resolution = 8640000
	Resolution1000d Resolution = 86400000
)

// RollupFactor is the fixed number of source periods aggregated into one
// target period at every rollup level.
const RollupFactor = 10

// RollupLevel is one hop of the fixed rollup ladder, source resolution to
// target resolution.
type RollupLevel struct {
	Source Resolution
	Target Resolution
}

// RollupLevels lists the three fixed aggregation hops, leaves first.
var RollupLevels = []RollupLevel{
	{Resolution1d, Resolution10d},
	{Resolution10d, Resolution100d},
	{Resolution100d, Resolution1000d},
}

// ParseResolution maps a query-string resolution token, including the
// special "auto" value, onto a concrete Resolution given a [from,to) span.
func ParseResolution(token string, from, to time.Time) (Resolution, error) {
	switch token {
	case "86400":
		return Resolution1d, nil
	case "864000":
		return Resolution10d, nil
	case "8640000":
		return Resolution100d, nil
	case "86400000":
		return Resolution1000d, nil
	case "auto", "":
		return autoResolution(from, to), nil
	default:
		return 0, &ServiceError{Code: "INVALID_RESOLUTION", Message: "unsupported resolution: " + token}
	}
}

// autoResolution implements the query-contract's auto mapping.
func autoResolution(from, to time.Time) Resolution {
	days := to.Sub(from).Hours() / 24
	switch {
	case days < 30:
		return Resolution1d
	case days < 300:
		return Resolution10d
	case days < 3000:
		return Resolution100d
	default:
		return Resolution1000d
	}
}

// ServiceError is a structured error surfaced across package boundaries to
// callers that need a code and message rather than a Go error chain (e.g.
// the REST front).
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// TransferEvent is one ERC-20-style Transfer observed on chain, in the
// common shape every chain adapter normalizes into.
type TransferEvent struct {
	BlockNumber uint64
	TxHash      string
	From        string
	To          string
	Value       string // base-unit integer, decimal string
	LogIndex    int    // intra-block ordering tiebreak
	Timestamp   *int64 // seconds since epoch; filled in once known
}

// MintBurnEvent is a transfer already classified as a mint or a burn.
type MintBurnEvent struct {
	TransferEvent
	IsMint bool // false => burn
}

// Fee is a transaction's native-chain fee, in base units.
type Fee struct {
	FeeNative string // base-unit integer decimal string; "0" on lookup failure
	FeeUSD    *string
}
