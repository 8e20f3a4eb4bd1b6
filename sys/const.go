package sys

// TokenDecimals is the fixed-point scale every amount exchanged with the
// ledger program is expressed in.
const TokenDecimals = 18

var (
	// MinStakeTokens is the whole-token stake required before likes carry
	// voting weight. Enforced by the ledger program; mirrored client-side
	// as a fast-fail convenience.
	MinStakeTokens uint64 = 1000

	// VotingPowerDivisor derives voting power from staked whole tokens.
	VotingPowerDivisor uint64 = 100

	// Handle length bounds, enforced before any register/update write.
	HandleMinLength = 3
	HandleMaxLength = 20
)
