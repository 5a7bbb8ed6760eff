package funding

import (
	"time"

	"github.com/shopspring/decimal"
)

// ApprovalResponse is returned when a loan was funded.
type ApprovalResponse struct {
	Outcome      Outcome         `json:"outcome"`
	ContractID   string          `json:"contract_id"`
	Principal    decimal.Decimal `json:"principal"`
	Fee          decimal.Decimal `json:"platform_fee"`
	NewBalance   decimal.Decimal `json:"new_balance"`
	NoticeQueued bool            `json:"notice_queued"`
}

// ApplicationResponse is the lender-facing view of a loan application.
type ApplicationResponse struct {
	ID              string          `json:"id"`
	FarmerID        string          `json:"farmer_id"`
	FarmerName      string          `json:"farmer_name"`
	AmountRequested decimal.Decimal `json:"amount_requested"`
	PlatformFee     decimal.Decimal `json:"platform_fee"`
	Purpose         string          `json:"purpose"`
	CreditScore     float64         `json:"credit_score"`
	TermMonths      int             `json:"term_months"`
	Status          string          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ContractResponse describes a funded loan.
type ContractResponse struct {
	ID              string          `json:"id"`
	ApplicationID   string          `json:"application_id"`
	FarmerID        string          `json:"farmer_id"`
	AmountDisbursed decimal.Decimal `json:"amount_disbursed"`
	InterestRate    decimal.Decimal `json:"interest_rate"`
	Status          string          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
}

// EntryResponse is a ledger entry attached to a contract.
type EntryResponse struct {
	ID             string              `json:"id"`
	Type           string              `json:"type"`
	Amount         decimal.Decimal     `json:"amount"`
	RunningBalance decimal.NullDecimal `json:"running_balance"`
	Purpose        string              `json:"purpose"`
	CreatedAt      time.Time           `json:"created_at"`
}

// ContractDetailResponse is a contract together with its ledger entries.
type ContractDetailResponse struct {
	ContractResponse
	Entries []EntryResponse `json:"entries"`
}
