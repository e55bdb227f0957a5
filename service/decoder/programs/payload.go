package programs

import (
	"github.com/gagliardetto/solana-go"
)

// Kind is the coarse semantic class of an instruction. The resolver maps kinds to event types.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransfer
	KindMintTo
	KindBurn
	KindSwap
	KindRoute
	KindSwapEvent
	KindLiquidity
	KindPoolCreate
	KindAccountCreate
	KindAccountClose
	KindAccountAdmin
	KindAuxiliary
)

var kindNames = [...]string{
	"unknown", "transfer", "mint_to", "burn", "swap", "route", "swap_event",
	"liquidity", "pool_create", "account_create", "account_close", "account_admin", "auxiliary",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Payload is the closed set of decoded instruction bodies.
type Payload interface {
	Kind() Kind
}

// Unparsed preserves an instruction no parser understood.
type Unparsed struct {
	ProgramID solana.PublicKey `json:"program_id"`
	Data      []byte           `json:"data"`
}

func (Unparsed) Kind() Kind { return KindUnknown }

// System program

type SystemTransfer struct {
	From     solana.PublicKey `json:"from"`
	To       solana.PublicKey `json:"to"`
	Lamports uint64           `json:"lamports"`
	Seed     string           `json:"seed,omitempty"`
}

func (SystemTransfer) Kind() Kind { return KindTransfer }

type SystemCreateAccount struct {
	From     solana.PublicKey  `json:"from"`
	Account  solana.PublicKey  `json:"account"`
	Base     *solana.PublicKey `json:"base,omitempty"`
	Seed     string            `json:"seed,omitempty"`
	Lamports uint64            `json:"lamports"`
	Space    uint64            `json:"space"`
	Owner    solana.PublicKey  `json:"owner"`
}

func (SystemCreateAccount) Kind() Kind { return KindAccountCreate }

type SystemAssign struct {
	Account solana.PublicKey `json:"account"`
	Owner   solana.PublicKey `json:"owner"`
}

func (SystemAssign) Kind() Kind { return KindAccountAdmin }

type SystemAllocate struct {
	Account solana.PublicKey `json:"account"`
	Space   uint64           `json:"space"`
}

func (SystemAllocate) Kind() Kind { return KindAccountAdmin }

type SystemNonce struct {
	Nonce     solana.PublicKey  `json:"nonce"`
	Authority solana.PublicKey  `json:"authority"`
	To        *solana.PublicKey `json:"to,omitempty"`
	Lamports  uint64            `json:"lamports,omitempty"`
}

func (SystemNonce) Kind() Kind { return KindAccountAdmin }

// SPL Token (both token programs)

type TokenTransfer struct {
	Source      solana.PublicKey  `json:"source"`
	Destination solana.PublicKey  `json:"destination"`
	Authority   solana.PublicKey  `json:"authority"`
	Amount      uint64            `json:"amount"`
	Mint        *solana.PublicKey `json:"mint,omitempty"`
	Decimals    *uint8            `json:"decimals,omitempty"`
}

func (TokenTransfer) Kind() Kind { return KindTransfer }

type TokenMintTo struct {
	Mint      solana.PublicKey `json:"mint"`
	Account   solana.PublicKey `json:"account"`
	Authority solana.PublicKey `json:"authority"`
	Amount    uint64           `json:"amount"`
	Decimals  *uint8           `json:"decimals,omitempty"`
}

func (TokenMintTo) Kind() Kind { return KindMintTo }

type TokenBurn struct {
	Account   solana.PublicKey `json:"account"`
	Mint      solana.PublicKey `json:"mint"`
	Authority solana.PublicKey `json:"authority"`
	Amount    uint64           `json:"amount"`
	Decimals  *uint8           `json:"decimals,omitempty"`
}

func (TokenBurn) Kind() Kind { return KindBurn }

type TokenInitializeMint struct {
	Mint            solana.PublicKey  `json:"mint"`
	Decimals        uint8             `json:"decimals"`
	MintAuthority   solana.PublicKey  `json:"mint_authority"`
	FreezeAuthority *solana.PublicKey `json:"freeze_authority,omitempty"`
}

func (TokenInitializeMint) Kind() Kind { return KindAccountCreate }

type TokenInitializeAccount struct {
	Account solana.PublicKey `json:"account"`
	Mint    solana.PublicKey `json:"mint"`
	Owner   solana.PublicKey `json:"owner"`
}

func (TokenInitializeAccount) Kind() Kind { return KindAccountCreate }

type TokenCloseAccount struct {
	Account     solana.PublicKey `json:"account"`
	Destination solana.PublicKey `json:"destination"`
	Owner       solana.PublicKey `json:"owner"`
}

func (TokenCloseAccount) Kind() Kind { return KindAccountClose }

type TokenApprove struct {
	Source   solana.PublicKey `json:"source"`
	Delegate solana.PublicKey `json:"delegate"`
	Owner    solana.PublicKey `json:"owner"`
	Amount   uint64           `json:"amount"`
}

func (TokenApprove) Kind() Kind { return KindAccountAdmin }

type TokenRevoke struct {
	Source solana.PublicKey `json:"source"`
	Owner  solana.PublicKey `json:"owner"`
}

func (TokenRevoke) Kind() Kind { return KindAccountAdmin }

type TokenSetAuthority struct {
	Account       solana.PublicKey  `json:"account"`
	AuthorityType uint8             `json:"authority_type"`
	NewAuthority  *solana.PublicKey `json:"new_authority,omitempty"`
}

func (TokenSetAuthority) Kind() Kind { return KindAccountAdmin }

type TokenFreeze struct {
	Account   solana.PublicKey `json:"account"`
	Mint      solana.PublicKey `json:"mint"`
	Authority solana.PublicKey `json:"authority"`
	Thaw      bool             `json:"thaw"`
}

func (TokenFreeze) Kind() Kind { return KindAccountAdmin }

type TokenSyncNative struct {
	Account solana.PublicKey `json:"account"`
}

func (TokenSyncNative) Kind() Kind { return KindAccountAdmin }

// Associated token account program

type ATACreate struct {
	Payer        solana.PublicKey `json:"payer"`
	Account      solana.PublicKey `json:"account"`
	Wallet       solana.PublicKey `json:"wallet"`
	Mint         solana.PublicKey `json:"mint"`
	TokenProgram solana.PublicKey `json:"token_program"`
	Idempotent   bool             `json:"idempotent"`
}

func (ATACreate) Kind() Kind { return KindAccountCreate }

type ATARecoverNested struct {
	NestedAccount solana.PublicKey `json:"nested_account"`
	Destination   solana.PublicKey `json:"destination"`
	Wallet        solana.PublicKey `json:"wallet"`
}

func (ATARecoverNested) Kind() Kind { return KindAccountAdmin }

// Compute budget and memo

type ComputeBudget struct {
	UnitLimit     *uint32 `json:"unit_limit,omitempty"`
	MicroLamports *uint64 `json:"micro_lamports,omitempty"`
	HeapBytes     *uint32 `json:"heap_bytes,omitempty"`
	DataSizeLimit *uint32 `json:"data_size_limit,omitempty"`
}

func (ComputeBudget) Kind() Kind { return KindAuxiliary }

type Memo struct {
	Text string `json:"text"`
}

func (Memo) Kind() Kind { return KindAuxiliary }

// AMM and aggregator payloads

// Swap is a swap against one pool. Vaults are the pool's reserve accounts; their order
// follows the program's account layout, not the swap direction.
type Swap struct {
	Pool            solana.PublicKey    `json:"pool"`
	User            solana.PublicKey    `json:"user"`
	UserSource      solana.PublicKey    `json:"user_source"`
	UserDestination solana.PublicKey    `json:"user_destination"`
	Vaults          [2]solana.PublicKey `json:"vaults"`
	InputMint       *solana.PublicKey   `json:"input_mint,omitempty"`
	OutputMint      *solana.PublicKey   `json:"output_mint,omitempty"`
	// ExactIn is true when Amount is the input amount and Threshold the minimum output.
	ExactIn   bool   `json:"exact_in"`
	Amount    uint64 `json:"amount"`
	Threshold uint64 `json:"threshold"`
}

func (Swap) Kind() Kind { return KindSwap }

// Route is an aggregator instruction that swaps through one or more pools in its CPI subtree.
type Route struct {
	User            solana.PublicKey  `json:"user"`
	UserSource      solana.PublicKey  `json:"user_source"`
	UserDestination solana.PublicKey  `json:"user_destination"`
	SourceMint      *solana.PublicKey `json:"source_mint,omitempty"`
	DestinationMint *solana.PublicKey `json:"destination_mint,omitempty"`
	ExactOut        bool              `json:"exact_out"`
	Amount          uint64            `json:"amount"`
	QuotedAmount    uint64            `json:"quoted_amount"`
	SlippageBps     uint16            `json:"slippage_bps"`
	PlatformFeeBps  uint8             `json:"platform_fee_bps"`
}

func (Route) Kind() Kind { return KindRoute }

// SwapEvent is a self-CPI log event that reports the executed amounts of one hop. AMM is the
// program that executed the swap.
type SwapEvent struct {
	AMM          solana.PublicKey `json:"amm"`
	User         solana.PublicKey `json:"user"`
	InputMint    solana.PublicKey `json:"input_mint"`
	InputAmount  uint64           `json:"input_amount"`
	OutputMint   solana.PublicKey `json:"output_mint"`
	OutputAmount uint64           `json:"output_amount"`
	Timestamp    int64            `json:"timestamp,omitempty"`
	// Virtual reserves after the trade, reported by bonding-curve events.
	VirtualSolReserves   uint64 `json:"virtual_sol_reserves,omitempty"`
	VirtualTokenReserves uint64 `json:"virtual_token_reserves,omitempty"`
}

func (SwapEvent) Kind() Kind { return KindSwapEvent }

// PumpTrade is a bonding-curve buy or sell.
type PumpTrade struct {
	Mint                   solana.PublicKey `json:"mint"`
	BondingCurve           solana.PublicKey `json:"bonding_curve"`
	AssociatedBondingCurve solana.PublicKey `json:"associated_bonding_curve"`
	AssociatedUser         solana.PublicKey `json:"associated_user"`
	User                   solana.PublicKey `json:"user"`
	IsBuy                  bool             `json:"is_buy"`
	TokenAmount            uint64           `json:"token_amount"`
	// SolLimit is max_sol_cost for buys and min_sol_output for sells.
	SolLimit uint64 `json:"sol_limit"`
}

func (PumpTrade) Kind() Kind { return KindSwap }

// PumpCreate launches a bonding-curve token.
type PumpCreate struct {
	Mint         solana.PublicKey `json:"mint"`
	BondingCurve solana.PublicKey `json:"bonding_curve"`
	User         solana.PublicKey `json:"user"`
	Name         string           `json:"name"`
	Symbol       string           `json:"symbol"`
	URI          string           `json:"uri"`
}

func (PumpCreate) Kind() Kind { return KindPoolCreate }

// LiquidityChange is the direction of a liquidity instruction.
type LiquidityChange string

const (
	LiquidityAdd    LiquidityChange = "add"
	LiquidityRemove LiquidityChange = "remove"
	LiquidityCreate LiquidityChange = "create"
)

// Liquidity covers deposits, withdrawals and pool initialization.
type Liquidity struct {
	Change   LiquidityChange   `json:"change"`
	Pool     solana.PublicKey  `json:"pool"`
	User     solana.PublicKey  `json:"user"`
	LPMint   *solana.PublicKey `json:"lp_mint,omitempty"`
	MintA    *solana.PublicKey `json:"mint_a,omitempty"`
	MintB    *solana.PublicKey `json:"mint_b,omitempty"`
	VaultA   *solana.PublicKey `json:"vault_a,omitempty"`
	VaultB   *solana.PublicKey `json:"vault_b,omitempty"`
	AmountA  uint64            `json:"amount_a"`
	AmountB  uint64            `json:"amount_b"`
	LPAmount uint64            `json:"lp_amount,omitempty"`
}

func (l Liquidity) Kind() Kind {
	if l.Change == LiquidityCreate {
		return KindPoolCreate
	}
	return KindLiquidity
}
