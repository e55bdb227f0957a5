package programs

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/brojonat/txdecode/service/decoder/txn"
)

// Catalog routes instructions to parsers by program id. It is built once and read-only.
type Catalog struct {
	byID    map[solana.PublicKey]Parser
	parsers []Parser
}

// NewCatalog indexes parsers by the program ids they claim. Two parsers claiming the same
// id is an error.
func NewCatalog(parsers ...Parser) (*Catalog, error) {
	c := &Catalog{byID: map[solana.PublicKey]Parser{}}
	for _, p := range parsers {
		if len(p.ProgramIDs()) == 0 {
			return nil, fmt.Errorf("parser %s claims no program ids", p.Program())
		}
		for _, id := range p.ProgramIDs() {
			if prev, dup := c.byID[id]; dup {
				return nil, fmt.Errorf("program %s claimed by both %s and %s", id, prev.Program(), p.Program())
			}
			c.byID[id] = p
		}
		c.parsers = append(c.parsers, p)
	}
	return c, nil
}

// DefaultParsers returns one parser per supported program.
func DefaultParsers() []Parser {
	return []Parser{
		SystemParser(),
		TokenParser(),
		Token2022Parser(),
		AssociatedTokenParser(),
		ComputeBudgetParser(),
		MemoParser(),
		RaydiumAMMParser(),
		RaydiumCPMMParser(),
		RaydiumCLMMParser(),
		OrcaWhirlpoolParser(),
		MeteoraDLMMParser(),
		PumpFunParser(),
		JupiterParser(),
	}
}

// DefaultCatalog is the catalogue of every supported program.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultParsers()...)
	if err != nil {
		panic(err)
	}
	return c
}

// Program returns the program enum value for an id.
func (c *Catalog) Program(id solana.PublicKey) Program {
	if p, ok := c.byID[id]; ok {
		return p.Program()
	}
	return ProgramUnknown
}

// Programs lists the programs in registration order.
func (c *Catalog) Programs() []Program {
	out := make([]Program, 0, len(c.parsers))
	for _, p := range c.parsers {
		out = append(out, p.Program())
	}
	return out
}

// Parse decodes one instruction. It never fails: unknown programs and discriminators become
// Unparsed payloads and malformed payloads set ParseError.
func (c *Catalog) Parse(tx *txn.Transaction, ix txn.RawInstruction) (pi ParsedInstruction) {
	pi = ParsedInstruction{
		Ref:  Ref{Outer: ix.OuterIndex, Inner: ix.InnerIndex, Depth: ix.StackHeight},
		Data: ix.Data,
	}

	pid, err := tx.ProgramID(ix)
	if err != nil {
		pi.Name = "unparsed"
		pi.ParseError = err.Error()
		pi.Payload = Unparsed{Data: ix.Data}
		return pi
	}
	pi.ProgramID = pid

	pi.Keys = make([]solana.PublicKey, 0, len(ix.AccountIndices))
	for _, idx := range ix.AccountIndices {
		key, err := tx.Account(idx)
		if err != nil {
			pi.Name = "unparsed"
			pi.ParseError = err.Error()
			pi.Payload = Unparsed{ProgramID: pid, Data: ix.Data}
			return pi
		}
		pi.Keys = append(pi.Keys, key)
	}

	parser, ok := c.byID[pid]
	if !ok {
		pi.Name = "unparsed"
		pi.Payload = Unparsed{ProgramID: pid, Data: ix.Data}
		return pi
	}
	pi.Program = parser.Program()

	defer func() {
		if r := recover(); r != nil {
			pi.Payload = nil
			pi.ParseError = fmt.Sprintf("parser panic: %v", r)
		}
	}()

	decoded, err := parser.Parse(pi.Keys, ix.Data)
	switch {
	case errors.Is(err, ErrUnknownDiscriminator):
		pi.Name = "unparsed"
		pi.Payload = Unparsed{ProgramID: pid, Data: ix.Data}
	case err != nil:
		pi.Name = decoded.Name
		pi.Accounts = decoded.Accounts
		pi.ParseError = err.Error()
	default:
		pi.Name = decoded.Name
		pi.Accounts = decoded.Accounts
		pi.Payload = decoded.Payload
	}
	return pi
}

// ParseAll decodes every instruction of the transaction in flattened execution order.
func (c *Catalog) ParseAll(tx *txn.Transaction) []ParsedInstruction {
	raw := tx.Instructions()
	out := make([]ParsedInstruction, 0, len(raw))
	for _, ix := range raw {
		out = append(out, c.Parse(tx, ix))
	}
	return out
}
