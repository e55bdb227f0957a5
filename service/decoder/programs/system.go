package programs

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
)

// System program instructions are bincode encoded with a u32 LE discriminator.
const (
	systemCreateAccount         = 0
	systemAssign                = 1
	systemTransfer              = 2
	systemCreateAccountWithSeed = 3
	systemAdvanceNonceAccount   = 4
	systemWithdrawNonceAccount  = 5
	systemAllocate              = 8
	systemTransferWithSeed      = 11
)

func SystemParser() Parser {
	return newTable(ProgramSystem, 4, SystemProgramID).
		// [0..8] lamports u64, [8..16] space u64, [16..48] owner
		on(u32Disc(systemCreateAccount), handler{
			name:  "CreateAccount",
			roles: []string{"from", "account"},
			decode: func(c *call) (Payload, error) {
				d := c.borsh()
				lamports, err := readU64(d)
				if err != nil {
					return nil, err
				}
				space, err := readU64(d)
				if err != nil {
					return nil, err
				}
				owner, err := readPubkey(d)
				if err != nil {
					return nil, err
				}
				return SystemCreateAccount{From: c.at(0), Account: c.at(1), Lamports: lamports, Space: space, Owner: owner}, nil
			},
		}).
		on(u32Disc(systemAssign), handler{
			name:  "Assign",
			roles: []string{"account"},
			decode: func(c *call) (Payload, error) {
				owner, err := readPubkey(c.borsh())
				if err != nil {
					return nil, err
				}
				return SystemAssign{Account: c.at(0), Owner: owner}, nil
			},
		}).
		// [0..8] lamports u64
		on(u32Disc(systemTransfer), handler{
			name:  "Transfer",
			roles: []string{"from", "to"},
			decode: func(c *call) (Payload, error) {
				lamports, err := readU64(c.borsh())
				if err != nil {
					return nil, err
				}
				return SystemTransfer{From: c.at(0), To: c.at(1), Lamports: lamports}, nil
			},
		}).
		// base pubkey, seed string (u64 length), lamports u64, space u64, owner pubkey
		on(u32Disc(systemCreateAccountWithSeed), handler{
			name:        "CreateAccountWithSeed",
			roles:       []string{"from", "account", "base"},
			minAccounts: 2,
			decode: func(c *call) (Payload, error) {
				d := c.borsh()
				base, err := readPubkey(d)
				if err != nil {
					return nil, err
				}
				seed, err := readBincodeString(d)
				if err != nil {
					return nil, err
				}
				lamports, err := readU64(d)
				if err != nil {
					return nil, err
				}
				space, err := readU64(d)
				if err != nil {
					return nil, err
				}
				owner, err := readPubkey(d)
				if err != nil {
					return nil, err
				}
				return SystemCreateAccount{
					From: c.at(0), Account: c.at(1), Base: &base, Seed: seed,
					Lamports: lamports, Space: space, Owner: owner,
				}, nil
			},
		}).
		on(u32Disc(systemAdvanceNonceAccount), handler{
			name:  "AdvanceNonceAccount",
			roles: []string{"nonce", "recent_blockhashes", "authority"},
			decode: func(c *call) (Payload, error) {
				return SystemNonce{Nonce: c.at(0), Authority: c.at(2)}, nil
			},
		}).
		on(u32Disc(systemWithdrawNonceAccount), handler{
			name:  "WithdrawNonceAccount",
			roles: []string{"nonce", "to", "recent_blockhashes", "rent", "authority"},
			decode: func(c *call) (Payload, error) {
				lamports, err := readU64(c.borsh())
				if err != nil {
					return nil, err
				}
				return SystemNonce{Nonce: c.at(0), To: c.opt(1), Authority: c.at(4), Lamports: lamports}, nil
			},
		}).
		on(u32Disc(systemAllocate), handler{
			name:  "Allocate",
			roles: []string{"account"},
			decode: func(c *call) (Payload, error) {
				space, err := readU64(c.borsh())
				if err != nil {
					return nil, err
				}
				return SystemAllocate{Account: c.at(0), Space: space}, nil
			},
		}).
		// lamports u64, from_seed string (u64 length), from_owner pubkey
		on(u32Disc(systemTransferWithSeed), handler{
			name:  "TransferWithSeed",
			roles: []string{"from", "base", "to"},
			decode: func(c *call) (Payload, error) {
				d := c.borsh()
				lamports, err := readU64(d)
				if err != nil {
					return nil, err
				}
				seed, err := readBincodeString(d)
				if err != nil {
					return nil, err
				}
				if _, err := readPubkey(d); err != nil {
					return nil, err
				}
				return SystemTransfer{From: c.at(0), To: c.at(2), Lamports: lamports, Seed: seed}, nil
			},
		})
}

func readBincodeString(d *bin.Decoder) (string, error) {
	n, err := readU64(d)
	if err != nil {
		return "", err
	}
	if n > uint64(d.Remaining()) {
		return "", fmt.Errorf("seed length %d exceeds %d remaining bytes", n, d.Remaining())
	}
	b, err := d.ReadNBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
