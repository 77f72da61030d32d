package domain

import "time"

type TurnoverType string

const (
	TurnoverSspIncome                TurnoverType = "SspIncome"
	TurnoverSspLicenseFee            TurnoverType = "SspLicenseFee"
	TurnoverSspOperatorFee           TurnoverType = "SspOperatorFee"
	TurnoverSspPublishersIncome      TurnoverType = "SspPublishersIncome"
	TurnoverSspBoostLocked           TurnoverType = "SspBoostLocked"
	TurnoverSspBoostOperatorIncome   TurnoverType = "SspBoostOperatorIncome"
	TurnoverSspBoostPublishersIncome TurnoverType = "SspBoostPublishersIncome"
	TurnoverDepositIncome            TurnoverType = "DepositIncome"
	TurnoverDspExpense               TurnoverType = "DspExpense"
	TurnoverRefund                   TurnoverType = "Refund"
)

// TurnoverEntry 不可变的记账记录，更正只能追加 Refund
type TurnoverEntry struct {
	ID            int64        `gorm:"primaryKey"`
	AdsAddress    *string      `gorm:"size:24"`
	Amount        int64        `gorm:"not null"`
	Type          TurnoverType `gorm:"size:32;index:idx_turnover_hour;not null"`
	HourTimestamp time.Time    `gorm:"index:idx_turnover_hour;not null"`
	AdsPaymentID  *int64       `gorm:"index"`
	CreatedAt     time.Time
}

func (TurnoverEntry) TableName() string { return "turnover_entries" }
