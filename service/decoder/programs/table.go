package programs

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var (
	// ErrUnknownDiscriminator means the program is known but the instruction is not.
	ErrUnknownDiscriminator = errors.New("unknown discriminator")
	// ErrMalformedPayload means the discriminator is known but the payload did not decode.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrNotEnoughAccounts means the instruction has fewer accounts than its layout needs.
	ErrNotEnoughAccounts = errors.New("not enough accounts")
)

// Parser decodes the instructions of one program.
type Parser interface {
	Program() Program
	ProgramIDs() []solana.PublicKey
	Parse(keys []solana.PublicKey, data []byte) (Decoded, error)
}

// Decoded is what a parser returns for one instruction. Name and Accounts are set even when
// the payload fails to decode.
type Decoded struct {
	Name     string
	Accounts []Account
	Payload  Payload
}

// call is the input handed to a handler's payload decoder.
type call struct {
	keys []solana.PublicKey
	// args is the payload after the discriminator.
	args []byte
	// data is the full instruction data.
	data []byte
}

func (c *call) at(i int) solana.PublicKey {
	if i < 0 || i >= len(c.keys) {
		return solana.PublicKey{}
	}
	return c.keys[i]
}

func (c *call) opt(i int) *solana.PublicKey {
	if i < 0 || i >= len(c.keys) {
		return nil
	}
	k := c.keys[i]
	return &k
}

func (c *call) borsh() *bin.Decoder {
	return bin.NewBorshDecoder(c.args)
}

type handler struct {
	name  string
	roles []string
	// layouts picks roles by account count when one instruction has several layouts.
	layouts map[int][]string
	// minAccounts defaults to len(roles).
	minAccounts int
	decode      func(c *call) (Payload, error)
}

func (h *handler) rolesFor(n int) []string {
	if roles, ok := h.layouts[n]; ok {
		return roles
	}
	return h.roles
}

// table is a discriminator-keyed handler table; every parser in this package is one.
type table struct {
	program  Program
	ids      []solana.PublicKey
	width    int
	handlers map[string]*handler
	onEmpty  *handler
}

func newTable(program Program, width int, ids ...solana.PublicKey) *table {
	return &table{
		program:  program,
		ids:      ids,
		width:    width,
		handlers: map[string]*handler{},
	}
}

func (t *table) on(disc []byte, h handler) *table {
	if len(disc) != t.width {
		panic(fmt.Sprintf("programs: %s discriminator %x is not %d bytes", t.program, disc, t.width))
	}
	key := string(disc)
	if _, dup := t.handlers[key]; dup {
		panic(fmt.Sprintf("programs: %s duplicate discriminator %x", t.program, disc))
	}
	t.handlers[key] = &h
	return t
}

// empty registers the handler used for instructions with no data at all.
func (t *table) empty(h handler) *table {
	t.onEmpty = &h
	return t
}

func (t *table) Program() Program               { return t.program }
func (t *table) ProgramIDs() []solana.PublicKey { return t.ids }

func (t *table) Parse(keys []solana.PublicKey, data []byte) (Decoded, error) {
	var h *handler
	var args []byte
	switch {
	case len(data) == 0 && t.onEmpty != nil:
		h = t.onEmpty
	case len(data) < t.width:
		return Decoded{}, fmt.Errorf("%w: %d bytes of data", ErrUnknownDiscriminator, len(data))
	default:
		h = t.handlers[string(data[:t.width])]
		args = data[t.width:]
	}
	if h == nil {
		return Decoded{}, fmt.Errorf("%w: %x", ErrUnknownDiscriminator, data[:t.width])
	}

	roles := h.rolesFor(len(keys))
	out := Decoded{Name: h.name, Accounts: bindRoles(roles, keys)}
	need := h.minAccounts
	if need == 0 {
		need = len(roles)
	}
	if len(keys) < need {
		return out, fmt.Errorf("%w: %s needs %d accounts, got %d", ErrNotEnoughAccounts, h.name, need, len(keys))
	}
	payload, err := h.decode(&call{keys: keys, args: args, data: data})
	if errors.Is(err, ErrUnknownDiscriminator) {
		return Decoded{}, err
	}
	if err != nil {
		return out, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, h.name, err)
	}
	out.Payload = payload
	return out, nil
}

func bindRoles(roles []string, keys []solana.PublicKey) []Account {
	n := len(roles)
	if len(keys) < n {
		n = len(keys)
	}
	out := make([]Account, 0, n)
	for i := 0; i < n; i++ {
		if roles[i] == "" {
			continue
		}
		out = append(out, Account{Role: roles[i], Key: keys[i]})
	}
	return out
}

// Discriminators

func u8Disc(v uint8) []byte { return []byte{v} }

func u32Disc(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// AnchorDiscriminator is the 8-byte instruction discriminator of an Anchor method.
func AnchorDiscriminator(method string) []byte {
	sum := sha256.Sum256([]byte("global:" + method))
	return sum[:8]
}

// AnchorEventTag prefixes self-CPI event instructions emitted with emit_cpi!.
var AnchorEventTag = func() []byte {
	sum := sha256.Sum256([]byte("anchor:event"))
	return sum[:8]
}()

// EventDiscriminator is the 8-byte discriminator of an Anchor event struct.
func EventDiscriminator(event string) []byte {
	sum := sha256.Sum256([]byte("event:" + event))
	return sum[:8]
}

// Borsh helpers

func readU64(d *bin.Decoder) (uint64, error) { return d.ReadUint64(bin.LE) }
func readU32(d *bin.Decoder) (uint32, error) { return d.ReadUint32(bin.LE) }

func readPubkey(d *bin.Decoder) (solana.PublicKey, error) {
	b, err := d.ReadNBytes(32)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return solana.PublicKeyFromBytes(b), nil
}

// readCOptionPubkey reads the SPL token packing of Option<Pubkey>: a one-byte tag and the key.
func readCOptionPubkey(d *bin.Decoder) (*solana.PublicKey, error) {
	tag, err := d.ReadUint8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case 0:
		return nil, nil
	case 1:
		k, err := readPubkey(d)
		if err != nil {
			return nil, err
		}
		return &k, nil
	default:
		return nil, fmt.Errorf("bad option tag %d", tag)
	}
}

func readString(d *bin.Decoder) (string, error) {
	n, err := readU32(d)
	if err != nil {
		return "", err
	}
	if int(n) > d.Remaining() {
		return "", fmt.Errorf("string length %d exceeds %d remaining bytes", n, d.Remaining())
	}
	b, err := d.ReadNBytes(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errors.New("string is not valid utf-8")
	}
	return string(b), nil
}

// skip discards n bytes, used for fields the payload types do not carry (u128 limits).
func skip(d *bin.Decoder, n int) error {
	_, err := d.ReadNBytes(n)
	return err
}

// twoU64 decodes the common (u64, u64) argument pair.
func twoU64(c *call) (uint64, uint64, error) {
	d := c.borsh()
	a, err := readU64(d)
	if err != nil {
		return 0, 0, err
	}
	b, err := readU64(d)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func ptr[T any](v T) *T { return &v }
