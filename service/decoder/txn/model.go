// Package txn holds the canonical, decode-time transaction model and the normalizer that
// builds it from getTransaction-style envelopes (legacy or versioned).
package txn

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Version identifies the wire shape a transaction was delivered in.
type Version int

const (
	VersionLegacy Version = iota
	Version0
)

func (v Version) String() string {
	switch v {
	case Version0:
		return "0"
	default:
		return "legacy"
	}
}

// MarshalJSON renders the version the way the RPC does: "legacy" or 0.
func (v Version) MarshalJSON() ([]byte, error) {
	if v == VersionLegacy {
		return []byte(`"legacy"`), nil
	}
	return []byte(fmt.Sprintf("%d", int(v)-int(Version0))), nil
}

// Transaction is the canonical transaction. It is immutable after normalization.
type Transaction struct {
	Slot            uint64             `json:"slot"`
	BlockTime       *time.Time         `json:"block_time,omitempty"`
	Signatures      []solana.Signature `json:"signatures"`
	Version         Version            `json:"version"`
	Message         Message            `json:"message"`
	Meta            Meta               `json:"meta"`
	LoadedAddresses LoadedAddresses    `json:"loaded_addresses"`

	allAccounts []solana.PublicKey
	flat        []RawInstruction
}

// Header mirrors the message header counts.
type Header struct {
	NumRequiredSignatures       uint8 `json:"num_required_signatures"`
	NumReadonlySignedAccounts   uint8 `json:"num_readonly_signed_accounts"`
	NumReadonlyUnsignedAccounts uint8 `json:"num_readonly_unsigned_accounts"`
}

// Message is the signed part of the transaction.
type Message struct {
	AccountKeys         []solana.PublicKey   `json:"account_keys"`
	Header              Header               `json:"header"`
	RecentBlockhash     string               `json:"recent_blockhash"`
	Instructions        []RawInstruction     `json:"instructions"`
	AddressTableLookups []AddressTableLookup `json:"address_table_lookups,omitempty"`
}

// AddressTableLookup references an on-chain address lookup table.
type AddressTableLookup struct {
	AccountKey      solana.PublicKey `json:"account_key"`
	WritableIndexes []uint8          `json:"writable_indexes"`
	ReadonlyIndexes []uint8          `json:"readonly_indexes"`
}

// LoadedAddresses are the addresses resolved from lookup tables by the runtime.
type LoadedAddresses struct {
	Writable []solana.PublicKey `json:"writable"`
	Readonly []solana.PublicKey `json:"readonly"`
}

// RawInstruction is one compiled instruction, top-level or inner.
type RawInstruction struct {
	ProgramIDIndex uint16   `json:"program_id_index"`
	AccountIndices []uint16 `json:"account_indices"`
	Data           []byte   `json:"data"`
	// StackHeight is the CPI depth; 0 for top-level instructions.
	StackHeight int `json:"stack_height"`
	// OuterIndex is the index of the top-level instruction this one belongs to.
	OuterIndex int `json:"outer_index"`
	// InnerIndex is the position inside the inner instruction group, -1 for top-level.
	InnerIndex int `json:"inner_index"`
}

// IsTopLevel reports whether the instruction was part of the message itself.
func (ix RawInstruction) IsTopLevel() bool {
	return ix.InnerIndex < 0
}

// InnerInstructions groups the CPI instructions spawned by one top-level instruction.
type InnerInstructions struct {
	Index        int              `json:"index"`
	Instructions []RawInstruction `json:"instructions"`
}

// TokenBalance is a pre- or post-execution SPL token balance snapshot.
type TokenBalance struct {
	AccountIndex uint16            `json:"account_index"`
	Mint         solana.PublicKey  `json:"mint"`
	Owner        *solana.PublicKey `json:"owner,omitempty"`
	ProgramID    *solana.PublicKey `json:"program_id,omitempty"`
	Amount       uint64            `json:"amount"`
	Decimals     uint8             `json:"decimals"`
}

// Meta is the execution metadata.
type Meta struct {
	Fee                  uint64              `json:"fee"`
	PreBalances          []uint64            `json:"pre_balances"`
	PostBalances         []uint64            `json:"post_balances"`
	PreTokenBalances     []TokenBalance      `json:"pre_token_balances"`
	PostTokenBalances    []TokenBalance      `json:"post_token_balances"`
	InnerInstructions    []InnerInstructions `json:"inner_instructions"`
	LogMessages          []string            `json:"log_messages"`
	Err                  json.RawMessage     `json:"err,omitempty"`
	ComputeUnitsConsumed *uint64             `json:"compute_units_consumed,omitempty"`
}

// Signature returns the first (fee payer) signature.
func (t *Transaction) Signature() solana.Signature {
	if len(t.Signatures) == 0 {
		return solana.Signature{}
	}
	return t.Signatures[0]
}

// Failed reports whether the transaction executed with an error.
func (t *Transaction) Failed() bool {
	return len(t.Meta.Err) > 0 && string(t.Meta.Err) != "null"
}

// AllAccounts is account_keys ++ loaded writable ++ loaded readonly.
func (t *Transaction) AllAccounts() []solana.PublicKey {
	return t.allAccounts
}

// Account resolves an index into AllAccounts.
func (t *Transaction) Account(index uint16) (solana.PublicKey, error) {
	if int(index) >= len(t.allAccounts) {
		return solana.PublicKey{}, fmt.Errorf("%w: account index %d, %d accounts", ErrIndexOutOfRange, index, len(t.allAccounts))
	}
	return t.allAccounts[index], nil
}

// IndexOf returns the position of key in AllAccounts.
func (t *Transaction) IndexOf(key solana.PublicKey) (uint16, bool) {
	for i, k := range t.allAccounts {
		if k.Equals(key) {
			return uint16(i), true
		}
	}
	return 0, false
}

// FeePayer is the first static account key.
func (t *Transaction) FeePayer() solana.PublicKey {
	if len(t.Message.AccountKeys) == 0 {
		return solana.PublicKey{}
	}
	return t.Message.AccountKeys[0]
}

// ProgramID resolves the program of an instruction.
func (t *Transaction) ProgramID(ix RawInstruction) (solana.PublicKey, error) {
	return t.Account(ix.ProgramIDIndex)
}

// Instructions returns every instruction flattened in execution order: each top-level
// instruction followed by its inner instructions.
func (t *Transaction) Instructions() []RawInstruction {
	return t.flat
}

// InnerOf returns the inner instructions spawned by top-level instruction outer.
func (t *Transaction) InnerOf(outer int) []RawInstruction {
	for _, group := range t.Meta.InnerInstructions {
		if group.Index == outer {
			return group.Instructions
		}
	}
	return nil
}

// PreTokenBalance finds the pre-execution token balance of an account.
func (t *Transaction) PreTokenBalance(account solana.PublicKey) (TokenBalance, bool) {
	return t.findTokenBalance(t.Meta.PreTokenBalances, account)
}

// PostTokenBalance finds the post-execution token balance of an account.
func (t *Transaction) PostTokenBalance(account solana.PublicKey) (TokenBalance, bool) {
	return t.findTokenBalance(t.Meta.PostTokenBalances, account)
}

func (t *Transaction) findTokenBalance(balances []TokenBalance, account solana.PublicKey) (TokenBalance, bool) {
	idx, ok := t.IndexOf(account)
	if !ok {
		return TokenBalance{}, false
	}
	for _, b := range balances {
		if b.AccountIndex == idx {
			return b, true
		}
	}
	return TokenBalance{}, false
}

// MintOf returns the mint of a token account from either balance snapshot.
func (t *Transaction) MintOf(account solana.PublicKey) (solana.PublicKey, bool) {
	if b, ok := t.PostTokenBalance(account); ok {
		return b.Mint, true
	}
	if b, ok := t.PreTokenBalance(account); ok {
		return b.Mint, true
	}
	return solana.PublicKey{}, false
}

// OwnerOf returns the owner of a token account from either balance snapshot.
func (t *Transaction) OwnerOf(account solana.PublicKey) (solana.PublicKey, bool) {
	for _, b := range []func(solana.PublicKey) (TokenBalance, bool){t.PostTokenBalance, t.PreTokenBalance} {
		if tb, ok := b(account); ok && tb.Owner != nil {
			return *tb.Owner, true
		}
	}
	return solana.PublicKey{}, false
}

// DecimalsOf returns the decimals of a mint as seen in the balance snapshots.
func (t *Transaction) DecimalsOf(mint solana.PublicKey) (uint8, bool) {
	for _, set := range [][]TokenBalance{t.Meta.PostTokenBalances, t.Meta.PreTokenBalances} {
		for _, b := range set {
			if b.Mint.Equals(mint) {
				return b.Decimals, true
			}
		}
	}
	return 0, false
}
