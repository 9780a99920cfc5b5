package core

import "context"

// StateSource exposes the latest known snapshot of a character.
type StateSource interface {
	State() AgentState
}

// ActionClient issues remote actions for a single character. Each call
// blocks until the game API answers; on success the snapshot returned by
// State is refreshed, on failure the error carries a result kind
// (see errors.ResultKindOf).
type ActionClient interface {
	StateSource
	Name() string
	Move(ctx context.Context, x, y int) error
	Fight(ctx context.Context) error
	Gather(ctx context.Context) error
	Rest(ctx context.Context) error
	Deposit(ctx context.Context, code string, quantity int) error
	Withdraw(ctx context.Context, code string, quantity int) error
	Craft(ctx context.Context, code string, quantity int) error
}

// Result kinds reported by the game client. They are the keys users write
// in a character's on_failure table.
const (
	ResultInventoryFull     = "ArtifactsInventoryFull"
	ResultCooldown          = "ArtifactsCooldown"
	ResultClientTimeout     = "ClientTimeout"
	ResultConnectionRefused = "ConnectionRefused"
	ResultCircuitOpen       = "CircuitOpen"

	ResultMove     = "MoveResponseData"
	ResultFight    = "FightData"
	ResultGather   = "GatherData"
	ResultRest     = "RestData"
	ResultDeposit  = "BankDepositData"
	ResultWithdraw = "BankWithdrawData"
	ResultCraft    = "CraftItemData"
)
