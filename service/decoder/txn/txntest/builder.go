// Package txntest builds getTransaction payloads for tests.
package txntest

import (
	"crypto/sha256"
	"encoding/json"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/txdecode/service/decoder/txn"
)

// Key derives a stable public key from a label.
func Key(label string) solana.PublicKey {
	return solana.PublicKeyFromBytes(hash(label))
}

// Sig derives a stable signature from a label.
func Sig(label string) solana.Signature {
	var sig solana.Signature
	h := hash(label)
	copy(sig[:32], h)
	copy(sig[32:], hash(label+"/2"))
	return sig
}

func hash(label string) []byte {
	sum := sha256.Sum256([]byte(label))
	return sum[:]
}

type instruction struct {
	program  solana.PublicKey
	accounts []solana.PublicKey
	data     []byte
	depth    int
}

type tokenBalance struct {
	account  solana.PublicKey
	mint     solana.PublicKey
	owner    solana.PublicKey
	amount   uint64
	decimals uint8
}

// Builder assembles a getTransaction result. Accounts are referenced by key and turned into
// indices when the payload is rendered, so keys can be added in any order.
type Builder struct {
	signature    solana.Signature
	slot         uint64
	blockTime    int64
	versioned    bool
	static       []solana.PublicKey
	loadedW      []solana.PublicKey
	loadedR      []solana.PublicKey
	top          []instruction
	inner        map[int][]instruction
	lamports     map[solana.PublicKey][2]uint64
	preTokens    []tokenBalance
	postTokens   []tokenBalance
	computeUnits *uint64
	fee          uint64
	logs         []string
	failed       bool
}

// New starts a legacy transaction paid for by feePayer.
func New(feePayer solana.PublicKey) *Builder {
	return &Builder{
		signature: Sig(feePayer.String()),
		slot:      250_000_000,
		blockTime: 1_700_000_000,
		static:    []solana.PublicKey{feePayer},
		inner:     map[int][]instruction{},
		lamports:  map[solana.PublicKey][2]uint64{},
		fee:       5000,
	}
}

func (b *Builder) Signature(sig solana.Signature) *Builder { b.signature = sig; return b }
func (b *Builder) Slot(slot uint64) *Builder                { b.slot = slot; return b }
func (b *Builder) BlockTime(unix int64) *Builder            { b.blockTime = unix; return b }
func (b *Builder) Fee(lamports uint64) *Builder             { b.fee = lamports; return b }
func (b *Builder) Logs(lines ...string) *Builder            { b.logs = append(b.logs, lines...); return b }
func (b *Builder) Failed() *Builder                         { b.failed = true; return b }

// ComputeUnits sets meta.computeUnitsConsumed.
func (b *Builder) ComputeUnits(units uint64) *Builder {
	b.computeUnits = &units
	return b
}

// Versioned turns the transaction into a v0 transaction whose extra accounts come from one
// lookup table.
func (b *Builder) Versioned(writable, readonly []solana.PublicKey) *Builder {
	b.versioned = true
	b.loadedW = append(b.loadedW, writable...)
	b.loadedR = append(b.loadedR, readonly...)
	return b
}

// Instruction appends a top-level instruction and returns its outer index.
func (b *Builder) Instruction(program solana.PublicKey, data []byte, accounts ...solana.PublicKey) int {
	b.top = append(b.top, instruction{program: program, accounts: accounts, data: data})
	return len(b.top) - 1
}

// Inner appends a depth-1 CPI instruction under top-level instruction outer.
func (b *Builder) Inner(outer int, program solana.PublicKey, data []byte, accounts ...solana.PublicKey) *Builder {
	return b.InnerAt(outer, 1, program, data, accounts...)
}

// InnerAt appends a CPI instruction at the given depth under top-level instruction outer.
func (b *Builder) InnerAt(outer, depth int, program solana.PublicKey, data []byte, accounts ...solana.PublicKey) *Builder {
	b.inner[outer] = append(b.inner[outer], instruction{program: program, accounts: accounts, data: data, depth: depth})
	return b
}

// Lamports records pre and post native balances for an account.
func (b *Builder) Lamports(account solana.PublicKey, pre, post uint64) *Builder {
	b.lamports[account] = [2]uint64{pre, post}
	b.touch(account)
	return b
}

// TokenBalance records both snapshots of a token account.
func (b *Builder) TokenBalance(account, mint, owner solana.PublicKey, pre, post uint64, decimals uint8) *Builder {
	b.PreTokenBalance(account, mint, owner, pre, decimals)
	return b.PostTokenBalance(account, mint, owner, post, decimals)
}

func (b *Builder) PreTokenBalance(account, mint, owner solana.PublicKey, amount uint64, decimals uint8) *Builder {
	b.touch(account)
	b.preTokens = append(b.preTokens, tokenBalance{account, mint, owner, amount, decimals})
	return b
}

func (b *Builder) PostTokenBalance(account, mint, owner solana.PublicKey, amount uint64, decimals uint8) *Builder {
	b.touch(account)
	b.postTokens = append(b.postTokens, tokenBalance{account, mint, owner, amount, decimals})
	return b
}

func (b *Builder) touch(key solana.PublicKey) {
	for _, set := range [][]solana.PublicKey{b.static, b.loadedW, b.loadedR} {
		for _, k := range set {
			if k.Equals(key) {
				return
			}
		}
	}
	b.static = append(b.static, key)
}

func (b *Builder) index(key solana.PublicKey) uint16 {
	all := b.all()
	for i, k := range all {
		if k.Equals(key) {
			return uint16(i)
		}
	}
	panic("txntest: key not registered: " + key.String())
}

func (b *Builder) all() []solana.PublicKey {
	all := append([]solana.PublicKey{}, b.static...)
	all = append(all, b.loadedW...)
	return append(all, b.loadedR...)
}

func (b *Builder) compile(ix instruction) map[string]interface{} {
	accounts := make([]uint16, 0, len(ix.accounts))
	for _, a := range ix.accounts {
		accounts = append(accounts, b.index(a))
	}
	out := map[string]interface{}{
		"programIdIndex": b.index(ix.program),
		"accounts":       accounts,
		"data":           base58.Encode(ix.data),
	}
	if ix.depth > 0 {
		out["stackHeight"] = ix.depth + 1
	}
	return out
}

// Result renders the getTransaction result object as a generic map, for tests that want to
// tweak the payload before encoding it.
func (b *Builder) Result() map[string]interface{} {
	for _, ix := range b.top {
		b.touch(ix.program)
		for _, a := range ix.accounts {
			b.touch(a)
		}
	}
	for _, group := range b.inner {
		for _, ix := range group {
			b.touch(ix.program)
			for _, a := range ix.accounts {
				b.touch(a)
			}
		}
	}

	all := b.all()
	keys := make([]string, 0, len(b.static))
	for _, k := range b.static {
		keys = append(keys, k.String())
	}

	top := make([]map[string]interface{}, 0, len(b.top))
	for _, ix := range b.top {
		top = append(top, b.compile(ix))
	}
	inner := make([]map[string]interface{}, 0, len(b.inner))
	for outer := range b.top {
		group, ok := b.inner[outer]
		if !ok {
			continue
		}
		ixs := make([]map[string]interface{}, 0, len(group))
		for _, ix := range group {
			ixs = append(ixs, b.compile(ix))
		}
		inner = append(inner, map[string]interface{}{"index": outer, "instructions": ixs})
	}

	pre := make([]uint64, len(all))
	post := make([]uint64, len(all))
	for key, bal := range b.lamports {
		i := b.index(key)
		pre[i], post[i] = bal[0], bal[1]
	}

	message := map[string]interface{}{
		"accountKeys": keys,
		"header": map[string]interface{}{
			"numRequiredSignatures":       1,
			"numReadonlySignedAccounts":   0,
			"numReadonlyUnsignedAccounts": 0,
		},
		"recentBlockhash": Key("blockhash").String(),
		"instructions":    top,
	}

	meta := map[string]interface{}{
		"err":               nil,
		"fee":               b.fee,
		"preBalances":       pre,
		"postBalances":      post,
		"preTokenBalances":  b.renderTokens(b.preTokens),
		"postTokenBalances": b.renderTokens(b.postTokens),
		"innerInstructions": inner,
		"logMessages":       b.logs,
	}
	if b.failed {
		meta["err"] = map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}
	}
	if b.computeUnits != nil {
		meta["computeUnitsConsumed"] = *b.computeUnits
	}

	result := map[string]interface{}{
		"slot":      b.slot,
		"blockTime": b.blockTime,
		"meta":      meta,
		"transaction": map[string]interface{}{
			"signatures": []string{b.signature.String()},
			"message":    message,
		},
	}
	if b.versioned {
		result["version"] = 0
		writable := make([]int, len(b.loadedW))
		readonly := make([]int, len(b.loadedR))
		for i := range writable {
			writable[i] = i
		}
		for i := range readonly {
			readonly[i] = len(writable) + i
		}
		message["addressTableLookups"] = []map[string]interface{}{{
			"accountKey":      Key("lookup-table").String(),
			"writableIndexes": writable,
			"readonlyIndexes": readonly,
		}}
		meta["loadedAddresses"] = map[string]interface{}{
			"writable": keyStrings(b.loadedW),
			"readonly": keyStrings(b.loadedR),
		}
	} else {
		result["version"] = "legacy"
	}
	return result
}

func (b *Builder) renderTokens(in []tokenBalance) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(in))
	for _, tb := range in {
		out = append(out, map[string]interface{}{
			"accountIndex": b.index(tb.account),
			"mint":         tb.mint.String(),
			"owner":        tb.owner.String(),
			"programId":    solana.TokenProgramID.String(),
			"uiTokenAmount": map[string]interface{}{
				"amount":   jsonUint(tb.amount),
				"decimals": tb.decimals,
			},
		})
	}
	return out
}

func jsonUint(v uint64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func keyStrings(keys []solana.PublicKey) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.String())
	}
	return out
}

// JSON renders the result object.
func (b *Builder) JSON() []byte {
	raw, err := json.Marshal(b.Result())
	if err != nil {
		panic(err)
	}
	return raw
}

// Build renders and normalizes the transaction, failing the test on error.
func (b *Builder) Build(t testing.TB) *txn.Transaction {
	t.Helper()
	tx, err := txn.Normalize(b.JSON())
	require.NoError(t, err)
	return tx
}
