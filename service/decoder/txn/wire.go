package txn

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/mr-tron/base58"
)

// Wire structs follow the getTransaction JSON shape (camelCase keys). Records written by
// older pipelines use snake_case keys and are rewritten by canonicalKeys before decoding.

type wireEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
}

type wireResult struct {
	Slot            uint64               `json:"slot"`
	BlockTime       *int64               `json:"blockTime"`
	Version         json.RawMessage      `json:"version"`
	Transaction     json.RawMessage      `json:"transaction"`
	Meta            *wireMeta            `json:"meta"`
	LoadedAddresses *wireLoadedAddresses `json:"loadedAddresses"`
}

type wireTransaction struct {
	Signatures []string     `json:"signatures"`
	Message    *wireMessage `json:"message"`
}

type wireMessage struct {
	AccountKeys         []wireAccountKey  `json:"accountKeys"`
	Header              *wireHeader       `json:"header"`
	RecentBlockhash     string            `json:"recentBlockhash"`
	Instructions        []wireInstruction `json:"instructions"`
	AddressTableLookups []wireLookup      `json:"addressTableLookups"`
}

type wireHeader struct {
	NumRequiredSignatures       uint8 `json:"numRequiredSignatures"`
	NumReadonlySignedAccounts   uint8 `json:"numReadonlySignedAccounts"`
	NumReadonlyUnsignedAccounts uint8 `json:"numReadonlyUnsignedAccounts"`
}

// wireAccountKey accepts either a base58 string or a {"pubkey": ..., "source": ...} object.
type wireAccountKey struct {
	Pubkey string `json:"pubkey"`
	Source string `json:"source"`
}

func (k *wireAccountKey) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &k.Pubkey)
	}
	type plain wireAccountKey
	return json.Unmarshal(data, (*plain)(k))
}

type wireInstruction struct {
	ProgramIDIndex *uint16  `json:"programIdIndex"`
	Accounts       []uint16 `json:"accounts"`
	Data           wireData `json:"data"`
	StackHeight    *int     `json:"stackHeight"`
}

// wireData is instruction data: a base58 string, or a [data, encoding] pair.
type wireData struct {
	bytes []byte
}

func (d *wireData) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '[' {
		var pair []string
		if err := json.Unmarshal(data, &pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("%w: data pair has %d elements", ErrUnsupportedEncoding, len(pair))
		}
		decoded, err := decodeString(pair[0], pair[1])
		if err != nil {
			return err
		}
		d.bytes = decoded
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := decodeString(s, "base58")
	if err != nil {
		return err
	}
	d.bytes = decoded
	return nil
}

func decodeString(s, encoding string) ([]byte, error) {
	if s == "" {
		return []byte{}, nil
	}
	switch encoding {
	case "base58":
		return base58.Decode(s)
	case "base64":
		return base64.StdEncoding.DecodeString(s)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, encoding)
	}
}

type wireLookup struct {
	AccountKey      string `json:"accountKey"`
	WritableIndexes []int  `json:"writableIndexes"`
	ReadonlyIndexes []int  `json:"readonlyIndexes"`
}

type wireMeta struct {
	Err                  json.RawMessage      `json:"err"`
	Status               json.RawMessage      `json:"status"`
	Fee                  uint64               `json:"fee"`
	PreBalances          []uint64             `json:"preBalances"`
	PostBalances         []uint64             `json:"postBalances"`
	PreTokenBalances     []wireTokenBalance   `json:"preTokenBalances"`
	PostTokenBalances    []wireTokenBalance   `json:"postTokenBalances"`
	InnerInstructions    []wireInnerGroup     `json:"innerInstructions"`
	LogMessages          []string             `json:"logMessages"`
	LoadedAddresses      *wireLoadedAddresses `json:"loadedAddresses"`
	ComputeUnitsConsumed *uint64              `json:"computeUnitsConsumed"`
}

type wireTokenBalance struct {
	AccountIndex  uint16 `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	ProgramID     string `json:"programId"`
	UITokenAmount struct {
		Amount   string `json:"amount"`
		Decimals uint8  `json:"decimals"`
	} `json:"uiTokenAmount"`
}

type wireInnerGroup struct {
	Index        int               `json:"index"`
	Instructions []wireInstruction `json:"instructions"`
}

type wireLoadedAddresses struct {
	Writable []string `json:"writable"`
	Readonly []string `json:"readonly"`
}

// keyAliases covers legacy names that a plain snake_case to camelCase rewrite gets wrong.
var keyAliases = map[string]string{
	"readOnly":  "readonly",
	"read_only": "readonly",
	"error":     "err",
}

// needsCanonicalKeys reports whether any key of the result, its message or its meta is in a
// legacy form.
func needsCanonicalKeys(top map[string]json.RawMessage) bool {
	if hasLegacyKey(top) {
		return true
	}
	var tx map[string]json.RawMessage
	if raw, ok := top["transaction"]; ok && json.Unmarshal(raw, &tx) == nil {
		if hasLegacyKey(tx) {
			return true
		}
		var msg map[string]json.RawMessage
		if m, ok := tx["message"]; ok && json.Unmarshal(m, &msg) == nil && hasLegacyKey(msg) {
			return true
		}
	}
	var meta map[string]json.RawMessage
	if raw, ok := top["meta"]; ok && json.Unmarshal(raw, &meta) == nil {
		if hasLegacyKey(meta) {
			return true
		}
		var loaded map[string]json.RawMessage
		if la, ok := meta["loadedAddresses"]; ok && json.Unmarshal(la, &loaded) == nil {
			return hasLegacyKey(loaded)
		}
	}
	return false
}

func hasLegacyKey(m map[string]json.RawMessage) bool {
	for k := range m {
		if strings.Contains(k, "_") {
			return true
		}
		if _, ok := keyAliases[k]; ok {
			return true
		}
	}
	return false
}

// canonicalKeys rewrites every object key of a JSON document into the RPC's camelCase
// form. Numbers are kept as json.Number so u64 values survive the round trip.
func canonicalKeys(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return json.Marshal(rewriteKeys(doc))
}

func rewriteKeys(v interface{}) interface{} {
	switch node := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(node))
		for k, child := range node {
			out[k] = rewriteKeys(child)
		}
		for k := range node {
			canonical := canonicalKey(k)
			if canonical == k {
				continue
			}
			if _, taken := node[canonical]; taken {
				continue
			}
			out[canonical] = out[k]
			delete(out, k)
		}
		return out
	case []interface{}:
		for i := range node {
			node[i] = rewriteKeys(node[i])
		}
		return node
	default:
		return v
	}
}

func canonicalKey(k string) string {
	if alias, ok := keyAliases[k]; ok {
		return alias
	}
	if !strings.Contains(k, "_") {
		return k
	}
	var b strings.Builder
	upper := false
	for _, r := range k {
		if r == '_' {
			upper = true
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
