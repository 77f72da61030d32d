package domain

import (
	"time"

	"gorm.io/gorm"
)

type LedgerType string

const (
	LedgerTypeDeposit                LedgerType = "deposit"
	LedgerTypeWithdrawal             LedgerType = "withdrawal"
	LedgerTypeAdIncome               LedgerType = "ad_income"
	LedgerTypeAdExpense              LedgerType = "ad_expense"
	LedgerTypeBonusIncome            LedgerType = "bonus_income"
	LedgerTypeBonusExpense           LedgerType = "bonus_expense"
	LedgerTypeNonWithdrawableDeposit LedgerType = "non_withdrawable_deposit"
	LedgerTypeBoostIncome            LedgerType = "boost_income"
)

// IsBonus 赠金类流水，不进钱包余额
func (t LedgerType) IsBonus() bool {
	return t == LedgerTypeBonusIncome || t == LedgerTypeBonusExpense
}

// IsDebit 这些类型的金额是负数
func (t LedgerType) IsDebit() bool {
	return t == LedgerTypeWithdrawal || t == LedgerTypeAdExpense || t == LedgerTypeBonusExpense
}

type LedgerStatus string

const (
	LedgerStatusAccepted         LedgerStatus = "accepted"
	LedgerStatusPending          LedgerStatus = "pending"
	LedgerStatusBlocked          LedgerStatus = "blocked"
	LedgerStatusAwaitingApproval LedgerStatus = "awaiting_approval"
	LedgerStatusCanceled         LedgerStatus = "canceled"
)

// UserLedgerEntry 用户余额流水，只追加，金额带符号
type UserLedgerEntry struct {
	ID              int64        `gorm:"primaryKey"`
	UserID          int64        `gorm:"index;not null"`
	Amount          int64        `gorm:"not null"`
	Status          LedgerStatus `gorm:"size:24;not null"`
	Type            LedgerType   `gorm:"size:32;not null"`
	AddressFrom     *string      `gorm:"size:24"`
	AddressTo       *string      `gorm:"size:24"`
	TxID            *string      `gorm:"size:32"`
	RefAdsPaymentID *int64       `gorm:"index"`
	CreatedAt       time.Time
}

func (UserLedgerEntry) TableName() string { return "user_ledger_entries" }

// LedgerAccount 每个用户一行，只用来串行化余额变更
type LedgerAccount struct {
	UserID    int64 `gorm:"primaryKey;autoIncrement:false"`
	Version   int64 `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

func (LedgerAccount) TableName() string { return "ledger_accounts" }

// LedgerSum 按 (type, status) 分组，正负分开合计
type LedgerSum struct {
	Type    LedgerType
	Status  LedgerStatus
	Credits int64
	Debits  int64 // <= 0
}

// User 这里只读，注册/登录在别的服务
type User struct {
	ID             int64   `gorm:"primaryKey"`
	UUID           string  `gorm:"uniqueIndex;size:32;not null"`
	Email          string  `gorm:"size:191"`
	DepositAddress *string `gorm:"uniqueIndex;size:24"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      gorm.DeletedAt `gorm:"index"`
}

func (User) TableName() string { return "users" }

// ScanCursor 链上扫描游标
type ScanCursor struct {
	Name      string `gorm:"primaryKey;size:64"`
	Value     string `gorm:"size:64;not null"`
	UpdatedAt time.Time
}

func (ScanCursor) TableName() string { return "scan_cursors" }
