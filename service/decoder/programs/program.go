// Package programs routes instructions to per-program parsers and holds the closed set of
// parsed instruction payloads.
package programs

import (
	"encoding/json"

	"github.com/gagliardetto/solana-go"
)

// Program enumerates the programs the catalogue knows how to decode.
type Program int

const (
	ProgramUnknown Program = iota
	ProgramSystem
	ProgramToken
	ProgramToken2022
	ProgramAssociatedToken
	ProgramComputeBudget
	ProgramMemo
	ProgramRaydiumAMM
	ProgramRaydiumCPMM
	ProgramRaydiumCLMM
	ProgramOrcaWhirlpool
	ProgramMeteoraDLMM
	ProgramPumpFun
	ProgramJupiter
)

var programNames = map[Program]string{
	ProgramUnknown:         "unknown",
	ProgramSystem:          "system",
	ProgramToken:           "spl_token",
	ProgramToken2022:       "spl_token_2022",
	ProgramAssociatedToken: "associated_token_account",
	ProgramComputeBudget:   "compute_budget",
	ProgramMemo:            "memo",
	ProgramRaydiumAMM:      "raydium_amm_v4",
	ProgramRaydiumCPMM:     "raydium_cpmm",
	ProgramRaydiumCLMM:     "raydium_clmm",
	ProgramOrcaWhirlpool:   "orca_whirlpool",
	ProgramMeteoraDLMM:     "meteora_dlmm",
	ProgramPumpFun:         "pumpfun",
	ProgramJupiter:         "jupiter_v6",
}

func (p Program) String() string {
	if name, ok := programNames[p]; ok {
		return name
	}
	return "unknown"
}

func (p Program) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// IsDEX reports whether the program is an AMM whose swaps move pool reserves.
func (p Program) IsDEX() bool {
	switch p {
	case ProgramRaydiumAMM, ProgramRaydiumCPMM, ProgramRaydiumCLMM, ProgramOrcaWhirlpool, ProgramMeteoraDLMM, ProgramPumpFun:
		return true
	}
	return false
}

// Well-known program and mint ids.
var (
	SystemProgramID         = solana.SystemProgramID
	TokenProgramID          = solana.TokenProgramID
	Token2022ProgramID      = solana.Token2022ProgramID
	AssociatedTokenID       = solana.MustPublicKeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
	ComputeBudgetProgramID  = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")
	MemoProgramID           = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")
	MemoV1ProgramID         = solana.MustPublicKeyFromBase58("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")
	RaydiumAMMProgramID     = solana.MustPublicKeyFromBase58("675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8")
	RaydiumCPMMProgramID    = solana.MustPublicKeyFromBase58("CPMMoo8L3F4NbTegBCKVNunggL7H1ZpdTHKxQB5qKP1C")
	RaydiumCLMMProgramID    = solana.MustPublicKeyFromBase58("CAMMCzo5YL8w4VFF8KVHrK22GGUsp5VTaW7grrKgrWqK")
	OrcaWhirlpoolProgramID  = solana.MustPublicKeyFromBase58("whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc")
	MeteoraDLMMProgramID    = solana.MustPublicKeyFromBase58("LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo")
	PumpFunProgramID        = solana.MustPublicKeyFromBase58("6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")
	JupiterV6ProgramID      = solana.MustPublicKeyFromBase58("JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4")
	WrappedSOLMint          = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	USDCMint                = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	USDTMint                = solana.MustPublicKeyFromBase58("Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB")
)

// Ref locates an instruction inside a transaction.
type Ref struct {
	// Outer is the index of the top-level instruction.
	Outer int `json:"outer"`
	// Inner is the position inside the inner instruction group, -1 for top-level.
	Inner int `json:"inner"`
	// Depth is the CPI depth, 0 for top-level.
	Depth int `json:"depth"`
}

func (r Ref) IsTopLevel() bool {
	return r.Inner < 0
}

// Less orders refs in execution order.
func (r Ref) Less(o Ref) bool {
	if r.Outer != o.Outer {
		return r.Outer < o.Outer
	}
	return r.Inner < o.Inner
}

// Account is one positional account with its semantic role.
type Account struct {
	Role string           `json:"role"`
	Key  solana.PublicKey `json:"key"`
}

// ParsedInstruction is the decoded form of one RawInstruction.
type ParsedInstruction struct {
	Ref       Ref              `json:"ref"`
	Program   Program          `json:"program"`
	ProgramID solana.PublicKey `json:"program_id"`
	Name      string           `json:"name"`
	Accounts  []Account        `json:"accounts,omitempty"`
	// Keys are the instruction's accounts in positional order, roles or not.
	Keys    []solana.PublicKey `json:"-"`
	Payload Payload            `json:"payload"`
	Data    []byte             `json:"data"`
	// ParseError is set when a known discriminator carried a payload that did not decode.
	ParseError string `json:"parse_error,omitempty"`
}

// Kind classifies the instruction by its payload.
func (p *ParsedInstruction) Kind() Kind {
	if p.Payload == nil {
		return KindUnknown
	}
	return p.Payload.Kind()
}

// Account returns the key bound to a role.
func (p *ParsedInstruction) Account(role string) (solana.PublicKey, bool) {
	for _, a := range p.Accounts {
		if a.Role == role {
			return a.Key, true
		}
	}
	return solana.PublicKey{}, false
}

// Touches reports whether key appears anywhere in the instruction's accounts.
func (p *ParsedInstruction) Touches(key solana.PublicKey) bool {
	for _, k := range p.Keys {
		if k.Equals(key) {
			return true
		}
	}
	return false
}

// IsUnparsed reports whether no parser understood the instruction.
func (p *ParsedInstruction) IsUnparsed() bool {
	_, ok := p.Payload.(Unparsed)
	return ok
}
