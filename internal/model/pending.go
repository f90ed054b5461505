package model

import "github.com/ethereum/go-ethereum/common"

// TxStatus is the lifecycle of a submitted transaction. Statuses only
// move forward: pending resolves to confirmed or failed, never back.
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
)

// StatusRank orders statuses for forward-only merges. Equal ranks may
// replace each other; a lower rank never overwrites a higher one.
func StatusRank(s TxStatus) int {
	switch s {
	case TxStatusConfirmed, TxStatusFailed:
		return 1
	default:
		return 0
	}
}

// TxClassification groups transactions by what they do, for display and
// filtering.
type TxClassification string

const (
	TxClassSwap     TxClassification = "swap"
	TxClassApproval TxClassification = "approval"
	TxClassWrap     TxClassification = "wrap"
)

// PendingTransaction is one account-scoped registry record, written at
// submission time and updated as the receipt lands.
type PendingTransaction struct {
	Account        common.Address   `json:"account"`
	Hash           common.Hash      `json:"hash"`
	Title          string           `json:"title"`
	Classification TxClassification `json:"classification"`
	Status         TxStatus         `json:"status"`
	InputToken     string           `json:"input_token,omitempty"`
	OutputToken    string           `json:"output_token,omitempty"`
	InputAmount    string           `json:"input_amount,omitempty"`
	OutputAmount   string           `json:"output_amount,omitempty"`
	SubmittedAt    string           `json:"submitted_at"`
	ResolvedAt     string           `json:"resolved_at,omitempty"`
	FailureReason  string           `json:"failure_reason,omitempty"`
}
