package programs

import (
	"fmt"
	"unicode/utf8"

	"github.com/gagliardetto/solana-go"
)

var ataCreateRoles = []string{"payer", "account", "wallet", "mint", "system_program", "token_program"}

func ataCreate(name string, idempotent bool) handler {
	return handler{
		name:        name,
		roles:       ataCreateRoles,
		minAccounts: 4,
		decode: func(c *call) (Payload, error) {
			return ATACreate{
				Payer:        c.at(0),
				Account:      c.at(1),
				Wallet:       c.at(2),
				Mint:         c.at(3),
				TokenProgram: c.at(5),
				Idempotent:   idempotent,
			}, nil
		},
	}
}

// AssociatedTokenParser decodes the ATA program. Create is sent either with no data or 0.
func AssociatedTokenParser() Parser {
	return newTable(ProgramAssociatedToken, 1, AssociatedTokenID).
		empty(ataCreate("Create", false)).
		on(u8Disc(0), ataCreate("Create", false)).
		on(u8Disc(1), ataCreate("CreateIdempotent", true)).
		on(u8Disc(2), handler{
			name:  "RecoverNested",
			roles: []string{"nested_account", "nested_mint", "destination", "owner_account", "owner_mint", "wallet", "token_program"},
			decode: func(c *call) (Payload, error) {
				return ATARecoverNested{NestedAccount: c.at(0), Destination: c.at(2), Wallet: c.at(5)}, nil
			},
		})
}

// ComputeBudgetParser decodes compute budget requests.
func ComputeBudgetParser() Parser {
	u32Field := func(name string, set func(*ComputeBudget, uint32)) handler {
		return handler{
			name: name,
			decode: func(c *call) (Payload, error) {
				v, err := readU32(c.borsh())
				if err != nil {
					return nil, err
				}
				var cb ComputeBudget
				set(&cb, v)
				return cb, nil
			},
		}
	}
	return newTable(ProgramComputeBudget, 1, ComputeBudgetProgramID).
		// deprecated: units u32, additional_fee u32
		on(u8Disc(0), u32Field("RequestUnits", func(cb *ComputeBudget, v uint32) { cb.UnitLimit = &v })).
		on(u8Disc(1), u32Field("RequestHeapFrame", func(cb *ComputeBudget, v uint32) { cb.HeapBytes = &v })).
		on(u8Disc(2), u32Field("SetComputeUnitLimit", func(cb *ComputeBudget, v uint32) { cb.UnitLimit = &v })).
		on(u8Disc(3), handler{
			name: "SetComputeUnitPrice",
			decode: func(c *call) (Payload, error) {
				price, err := readU64(c.borsh())
				if err != nil {
					return nil, err
				}
				return ComputeBudget{MicroLamports: &price}, nil
			},
		}).
		on(u8Disc(4), u32Field("SetLoadedAccountsDataSizeLimit", func(cb *ComputeBudget, v uint32) { cb.DataSizeLimit = &v }))
}

type memoParser struct{}

// MemoParser decodes both memo programs. The whole data is the memo text.
func MemoParser() Parser { return memoParser{} }

func (memoParser) Program() Program { return ProgramMemo }

func (memoParser) ProgramIDs() []solana.PublicKey {
	return []solana.PublicKey{MemoProgramID, MemoV1ProgramID}
}

func (memoParser) Parse(keys []solana.PublicKey, data []byte) (Decoded, error) {
	out := Decoded{Name: "Memo"}
	for i, k := range keys {
		out.Accounts = append(out.Accounts, Account{Role: signerRole(i), Key: k})
	}
	if !utf8.Valid(data) {
		return out, fmt.Errorf("%w: memo is not valid utf-8", ErrMalformedPayload)
	}
	out.Payload = Memo{Text: string(data)}
	return out, nil
}

func signerRole(i int) string {
	return fmt.Sprintf("signer_%d", i)
}
