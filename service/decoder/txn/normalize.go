package txn

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// decodedMessage is the encoding-independent intermediate both the JSON and the binary
// transaction paths produce before validation.
type decodedMessage struct {
	signatures      []string
	accountKeys     []wireAccountKey
	header          wireHeader
	recentBlockhash string
	instructions    []wireInstruction
	lookups         []wireLookup
	versioned       bool
}

// Normalize turns a getTransaction result (bare or inside a JSON-RPC envelope, legacy or
// versioned) into a canonical Transaction. Any failure is a *NormalizationError.
func Normalize(raw []byte) (*Transaction, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, normErr(ErrMalformedEnvelope, "", "empty payload")
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, normErr(ErrMalformedEnvelope, "", "payload is not a JSON object: %v", err)
	}

	body := raw
	if _, rpc := top["jsonrpc"]; rpc || hasKey(top, "result") {
		var env wireEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, normErr(ErrMalformedEnvelope, "", "bad JSON-RPC envelope: %v", err)
		}
		if !isNull(env.Error) {
			return nil, normErr(ErrMalformedEnvelope, "error", "rpc error: %s", string(env.Error))
		}
		if isNull(env.Result) {
			return nil, normErr(ErrMissingField, "result", "rpc result is null")
		}
		body = env.Result
		top = nil
		if err := json.Unmarshal(body, &top); err != nil {
			return nil, normErr(ErrMalformedEnvelope, "result", "result is not a JSON object: %v", err)
		}
	}

	if needsCanonicalKeys(top) {
		rewritten, err := canonicalKeys(body)
		if err != nil {
			return nil, normErr(ErrMalformedEnvelope, "", "rewrite legacy keys: %v", err)
		}
		body = rewritten
	}

	var res wireResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, normErr(ErrMalformedEnvelope, "", "decode result: %v", err)
	}
	return build(&res)
}

func build(res *wireResult) (*Transaction, error) {
	if isNull(res.Transaction) {
		return nil, normErr(ErrMissingField, "transaction", "transaction is missing")
	}
	if res.Meta == nil {
		return nil, normErr(ErrMissingField, "meta", "meta is missing")
	}

	msg, err := decodeTransaction(res.Transaction)
	if err != nil {
		return nil, err
	}

	version, err := detectVersion(res.Version, msg)
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		Slot:    res.Slot,
		Version: version,
	}
	if res.BlockTime != nil {
		bt := time.Unix(*res.BlockTime, 0).UTC()
		tx.BlockTime = &bt
	}

	if len(msg.signatures) == 0 {
		return nil, normErr(ErrMissingField, "transaction.signatures", "no signatures")
	}
	for i, s := range msg.signatures {
		sig, err := solana.SignatureFromBase58(s)
		if err != nil {
			return nil, normErr(ErrMalformedEnvelope, "transaction.signatures", "signature %d: %v", i, err)
		}
		tx.Signatures = append(tx.Signatures, sig)
	}

	if err := buildMessage(tx, msg); err != nil {
		return nil, err
	}
	if err := buildLoadedAddresses(tx, res, msg); err != nil {
		return nil, err
	}

	tx.allAccounts = make([]solana.PublicKey, 0, len(tx.Message.AccountKeys)+len(tx.LoadedAddresses.Writable)+len(tx.LoadedAddresses.Readonly))
	tx.allAccounts = append(tx.allAccounts, tx.Message.AccountKeys...)
	tx.allAccounts = append(tx.allAccounts, tx.LoadedAddresses.Writable...)
	tx.allAccounts = append(tx.allAccounts, tx.LoadedAddresses.Readonly...)

	if err := buildInstructions(tx, msg.instructions); err != nil {
		return nil, err
	}
	if err := buildMeta(tx, res.Meta); err != nil {
		return nil, err
	}
	tx.flat = flatten(tx)
	return tx, nil
}

func decodeTransaction(raw json.RawMessage) (*decodedMessage, error) {
	raw = bytes.TrimSpace(raw)
	switch raw[0] {
	case '[':
		var pair []string
		if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
			return nil, normErr(ErrMalformedEnvelope, "transaction", "encoded transaction must be [data, encoding]")
		}
		var data []byte
		var err error
		switch pair[1] {
		case "base64":
			data, err = base64.StdEncoding.DecodeString(pair[0])
		case "base58":
			data, err = base58.Decode(pair[0])
		default:
			return nil, normErr(ErrUnsupportedEncoding, "transaction", "encoding %q", pair[1])
		}
		if err != nil {
			return nil, normErr(ErrMalformedEnvelope, "transaction", "decode %s: %v", pair[1], err)
		}
		return decodeBinary(data)
	case '{':
		var wt wireTransaction
		if err := json.Unmarshal(raw, &wt); err != nil {
			return nil, normErr(ErrMalformedEnvelope, "transaction", "decode transaction: %v", err)
		}
		if wt.Message == nil {
			return nil, normErr(ErrMissingField, "transaction.message", "message is missing")
		}
		msg := &decodedMessage{
			signatures:      wt.Signatures,
			accountKeys:     wt.Message.AccountKeys,
			recentBlockhash: wt.Message.RecentBlockhash,
			instructions:    wt.Message.Instructions,
			lookups:         wt.Message.AddressTableLookups,
		}
		if wt.Message.Header != nil {
			msg.header = *wt.Message.Header
		}
		return msg, nil
	default:
		return nil, normErr(ErrMalformedEnvelope, "transaction", "unexpected transaction shape")
	}
}

func decodeBinary(data []byte) (*decodedMessage, error) {
	stx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(data))
	if err != nil {
		return nil, normErr(ErrMalformedEnvelope, "transaction", "binary transaction: %v", err)
	}
	msg := &decodedMessage{
		recentBlockhash: stx.Message.RecentBlockhash.String(),
		versioned:       stx.Message.IsVersioned(),
		header: wireHeader{
			NumRequiredSignatures:       stx.Message.Header.NumRequiredSignatures,
			NumReadonlySignedAccounts:   stx.Message.Header.NumReadonlySignedAccounts,
			NumReadonlyUnsignedAccounts: stx.Message.Header.NumReadonlyUnsignedAccounts,
		},
	}
	for _, sig := range stx.Signatures {
		msg.signatures = append(msg.signatures, sig.String())
	}
	for _, key := range stx.Message.AccountKeys {
		msg.accountKeys = append(msg.accountKeys, wireAccountKey{Pubkey: key.String()})
	}
	for _, ci := range stx.Message.Instructions {
		programIndex := ci.ProgramIDIndex
		msg.instructions = append(msg.instructions, wireInstruction{
			ProgramIDIndex: &programIndex,
			Accounts:       ci.Accounts,
			Data:           wireData{bytes: append([]byte{}, ci.Data...)},
		})
	}
	for _, l := range stx.Message.AddressTableLookups {
		lookup := wireLookup{AccountKey: l.AccountKey.String()}
		for _, w := range l.WritableIndexes {
			lookup.WritableIndexes = append(lookup.WritableIndexes, int(w))
		}
		for _, r := range l.ReadonlyIndexes {
			lookup.ReadonlyIndexes = append(lookup.ReadonlyIndexes, int(r))
		}
		msg.lookups = append(msg.lookups, lookup)
	}
	return msg, nil
}

func detectVersion(raw json.RawMessage, msg *decodedMessage) (Version, error) {
	if isNull(raw) {
		if msg.versioned || len(msg.lookups) > 0 {
			return Version0, nil
		}
		return VersionLegacy, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s != "legacy" {
			return 0, normErr(ErrUnsupportedVersion, "version", "version %q", s)
		}
		if len(msg.lookups) > 0 {
			return 0, normErr(ErrMalformedEnvelope, "version", "legacy transaction carries address table lookups")
		}
		return VersionLegacy, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, normErr(ErrMalformedEnvelope, "version", "unreadable version %s", string(raw))
	}
	if n != 0 {
		return 0, normErr(ErrUnsupportedVersion, "version", "version %d", n)
	}
	return Version0, nil
}

func buildMessage(tx *Transaction, msg *decodedMessage) error {
	if len(msg.accountKeys) == 0 {
		return normErr(ErrMissingField, "transaction.message.accountKeys", "no account keys")
	}
	for i, k := range msg.accountKeys {
		// Parsed encodings list loaded addresses next to the static keys.
		if k.Source == "lookupTable" {
			continue
		}
		key, err := solana.PublicKeyFromBase58(k.Pubkey)
		if err != nil {
			return normErr(ErrMalformedEnvelope, "transaction.message.accountKeys", "key %d: %v", i, err)
		}
		tx.Message.AccountKeys = append(tx.Message.AccountKeys, key)
	}
	tx.Message.Header = Header(msg.header)
	tx.Message.RecentBlockhash = msg.recentBlockhash
	for i, l := range msg.lookups {
		key, err := solana.PublicKeyFromBase58(l.AccountKey)
		if err != nil {
			return normErr(ErrMalformedEnvelope, "transaction.message.addressTableLookups", "lookup %d: %v", i, err)
		}
		lookup := AddressTableLookup{AccountKey: key}
		for _, idx := range l.WritableIndexes {
			lookup.WritableIndexes = append(lookup.WritableIndexes, uint8(idx))
		}
		for _, idx := range l.ReadonlyIndexes {
			lookup.ReadonlyIndexes = append(lookup.ReadonlyIndexes, uint8(idx))
		}
		tx.Message.AddressTableLookups = append(tx.Message.AddressTableLookups, lookup)
	}
	return nil
}

func buildLoadedAddresses(tx *Transaction, res *wireResult, msg *decodedMessage) error {
	loaded := res.Meta.LoadedAddresses
	if loaded == nil {
		loaded = res.LoadedAddresses
	}

	var wantWritable, wantReadonly int
	for _, l := range msg.lookups {
		wantWritable += len(l.WritableIndexes)
		wantReadonly += len(l.ReadonlyIndexes)
	}

	if loaded == nil {
		if wantWritable+wantReadonly > 0 {
			return normErr(ErrMissingField, "meta.loadedAddresses", "address table lookups without loaded addresses")
		}
		return nil
	}
	if tx.Version == Version0 && len(msg.lookups) > 0 &&
		(len(loaded.Writable) != wantWritable || len(loaded.Readonly) != wantReadonly) {
		return normErr(ErrMalformedEnvelope, "meta.loadedAddresses",
			"lookups reference %d writable / %d readonly, loaded %d / %d",
			wantWritable, wantReadonly, len(loaded.Writable), len(loaded.Readonly))
	}

	var err error
	if tx.LoadedAddresses.Writable, err = parseKeys(loaded.Writable, "meta.loadedAddresses.writable"); err != nil {
		return err
	}
	if tx.LoadedAddresses.Readonly, err = parseKeys(loaded.Readonly, "meta.loadedAddresses.readonly"); err != nil {
		return err
	}
	if tx.Version == VersionLegacy && len(tx.LoadedAddresses.Writable)+len(tx.LoadedAddresses.Readonly) > 0 {
		return normErr(ErrMalformedEnvelope, "meta.loadedAddresses", "legacy transaction with loaded addresses")
	}
	return nil
}

func parseKeys(in []string, field string) ([]solana.PublicKey, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]solana.PublicKey, 0, len(in))
	for i, s := range in {
		key, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return nil, normErr(ErrMalformedEnvelope, field, "key %d: %v", i, err)
		}
		out = append(out, key)
	}
	return out, nil
}

func buildInstructions(tx *Transaction, in []wireInstruction) error {
	for i, wi := range in {
		ix, err := tx.compile(wi, "transaction.message.instructions")
		if err != nil {
			return err
		}
		ix.StackHeight = 0
		ix.OuterIndex = i
		ix.InnerIndex = -1
		tx.Message.Instructions = append(tx.Message.Instructions, ix)
	}
	return nil
}

func (t *Transaction) compile(wi wireInstruction, field string) (RawInstruction, error) {
	if wi.ProgramIDIndex == nil {
		return RawInstruction{}, normErr(ErrMissingField, field, "instruction without programIdIndex")
	}
	n := len(t.allAccounts)
	if int(*wi.ProgramIDIndex) >= n {
		return RawInstruction{}, normErr(ErrIndexOutOfRange, field, "program index %d, %d accounts", *wi.ProgramIDIndex, n)
	}
	for _, idx := range wi.Accounts {
		if int(idx) >= n {
			return RawInstruction{}, normErr(ErrIndexOutOfRange, field, "account index %d, %d accounts", idx, n)
		}
	}
	data := wi.Data.bytes
	if data == nil {
		data = []byte{}
	}
	return RawInstruction{
		ProgramIDIndex: *wi.ProgramIDIndex,
		AccountIndices: append([]uint16{}, wi.Accounts...),
		Data:           data,
	}, nil
}

func buildMeta(tx *Transaction, m *wireMeta) error {
	meta := Meta{
		Fee:                  m.Fee,
		PreBalances:          m.PreBalances,
		PostBalances:         m.PostBalances,
		LogMessages:          m.LogMessages,
		ComputeUnitsConsumed: m.ComputeUnitsConsumed,
	}

	meta.Err = m.Err
	if isNull(meta.Err) {
		meta.Err = statusErr(m.Status)
	}

	n := len(tx.allAccounts)
	if len(meta.PreBalances) > 0 && len(meta.PreBalances) != n {
		return normErr(ErrMalformedEnvelope, "meta.preBalances", "%d balances for %d accounts", len(meta.PreBalances), n)
	}
	if len(meta.PostBalances) > 0 && len(meta.PostBalances) != n {
		return normErr(ErrMalformedEnvelope, "meta.postBalances", "%d balances for %d accounts", len(meta.PostBalances), n)
	}

	var err error
	if meta.PreTokenBalances, err = tokenBalances(m.PreTokenBalances, n, "meta.preTokenBalances"); err != nil {
		return err
	}
	if meta.PostTokenBalances, err = tokenBalances(m.PostTokenBalances, n, "meta.postTokenBalances"); err != nil {
		return err
	}

	groups := append([]wireInnerGroup{}, m.InnerInstructions...)
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Index < groups[j].Index })
	for _, g := range groups {
		if g.Index < 0 || g.Index >= len(tx.Message.Instructions) {
			return normErr(ErrIndexOutOfRange, "meta.innerInstructions", "group index %d, %d instructions", g.Index, len(tx.Message.Instructions))
		}
		var target *InnerInstructions
		if len(meta.InnerInstructions) > 0 && meta.InnerInstructions[len(meta.InnerInstructions)-1].Index == g.Index {
			target = &meta.InnerInstructions[len(meta.InnerInstructions)-1]
		} else {
			meta.InnerInstructions = append(meta.InnerInstructions, InnerInstructions{Index: g.Index})
			target = &meta.InnerInstructions[len(meta.InnerInstructions)-1]
		}
		for _, wi := range g.Instructions {
			ix, err := tx.compile(wi, "meta.innerInstructions")
			if err != nil {
				return err
			}
			ix.StackHeight = 1
			if wi.StackHeight != nil && *wi.StackHeight > 1 {
				ix.StackHeight = *wi.StackHeight - 1
			}
			ix.OuterIndex = g.Index
			ix.InnerIndex = len(target.Instructions)
			target.Instructions = append(target.Instructions, ix)
		}
	}

	tx.Meta = meta
	return nil
}

func tokenBalances(in []wireTokenBalance, n int, field string) ([]TokenBalance, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]TokenBalance, 0, len(in))
	for i, wb := range in {
		if int(wb.AccountIndex) >= n {
			return nil, normErr(ErrIndexOutOfRange, field, "balance %d account index %d, %d accounts", i, wb.AccountIndex, n)
		}
		mint, err := solana.PublicKeyFromBase58(wb.Mint)
		if err != nil {
			return nil, normErr(ErrMalformedEnvelope, field, "balance %d mint: %v", i, err)
		}
		amount := uint64(0)
		if wb.UITokenAmount.Amount != "" {
			amount, err = strconv.ParseUint(wb.UITokenAmount.Amount, 10, 64)
			if err != nil {
				return nil, normErr(ErrMalformedEnvelope, field, "balance %d amount: %v", i, err)
			}
		}
		tb := TokenBalance{
			AccountIndex: wb.AccountIndex,
			Mint:         mint,
			Amount:       amount,
			Decimals:     wb.UITokenAmount.Decimals,
		}
		if wb.Owner != "" {
			owner, err := solana.PublicKeyFromBase58(wb.Owner)
			if err != nil {
				return nil, normErr(ErrMalformedEnvelope, field, "balance %d owner: %v", i, err)
			}
			tb.Owner = &owner
		}
		if wb.ProgramID != "" {
			pid, err := solana.PublicKeyFromBase58(wb.ProgramID)
			if err != nil {
				return nil, normErr(ErrMalformedEnvelope, field, "balance %d program: %v", i, err)
			}
			tb.ProgramID = &pid
		}
		out = append(out, tb)
	}
	return out, nil
}

func flatten(tx *Transaction) []RawInstruction {
	out := make([]RawInstruction, 0, len(tx.Message.Instructions))
	for i, top := range tx.Message.Instructions {
		out = append(out, top)
		out = append(out, tx.InnerOf(i)...)
	}
	return out
}

// statusErr reads the older {"status": {"Err": ...}} form.
func statusErr(status json.RawMessage) json.RawMessage {
	if isNull(status) {
		return nil
	}
	var s struct {
		Err json.RawMessage `json:"Err"`
	}
	if json.Unmarshal(status, &s) != nil || isNull(s.Err) {
		return nil
	}
	return s.Err
}

func hasKey(m map[string]json.RawMessage, key string) bool {
	_, ok := m[key]
	return ok
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || string(trimmed) == "null"
}

// PeekSignature extracts the first signature from a raw payload without validating it.
// It returns "" when none can be found.
func PeekSignature(raw []byte) string {
	var probe struct {
		Result      json.RawMessage `json:"result"`
		Transaction json.RawMessage `json:"transaction"`
	}
	if json.Unmarshal(raw, &probe) != nil {
		return ""
	}
	txRaw := probe.Transaction
	if !isNull(probe.Result) {
		var inner struct {
			Transaction json.RawMessage `json:"transaction"`
		}
		if json.Unmarshal(probe.Result, &inner) != nil {
			return ""
		}
		txRaw = inner.Transaction
	}
	var wt struct {
		Signatures []string `json:"signatures"`
	}
	if json.Unmarshal(txRaw, &wt) != nil || len(wt.Signatures) == 0 {
		return ""
	}
	return wt.Signatures[0]
}
