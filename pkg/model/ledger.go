package model

import "time"

const MaxReasonLength = 64

// LedgerEntry records one applied point delta.
type LedgerEntry struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"userId"`
	Amount       int64     `json:"amount"`
	Reason       string    `json:"reason"`
	BalanceAfter int64     `json:"balanceAfter"`
	CreatedAt    time.Time `json:"createdAt"`
}
