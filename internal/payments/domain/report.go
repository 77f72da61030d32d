package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReportStatus string

const (
	ReportStatusNew      ReportStatus = "NEW"
	ReportStatusUpdated  ReportStatus = "UPDATED"
	ReportStatusPrepared ReportStatus = "PREPARED"
	ReportStatusDone     ReportStatus = "DONE"
	ReportStatusError    ReportStatus = "ERROR"
)

// PaymentReport 主键是整点的 unix 时间戳
type PaymentReport struct {
	ID        int64        `gorm:"primaryKey;autoIncrement:false"`
	Status    ReportStatus `gorm:"size:16;index;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (PaymentReport) TableName() string { return "payment_reports" }

func (r PaymentReport) Hour() time.Time { return time.Unix(r.ID, 0).UTC() }

// OutboundPaymentItem 导出步骤写入，金额是法币
type OutboundPaymentItem struct {
	ID             int64           `gorm:"primaryKey"`
	ReportID       int64           `gorm:"index;not null"`
	AccountAddress string          `gorm:"size:24;not null"`
	ValueCurrency  decimal.Decimal `gorm:"type:decimal(24,8);not null"`
	CreatedAt      time.Time
}

func (OutboundPaymentItem) TableName() string { return "outbound_payment_items" }

// OutboundPayment 按收款地址聚合后的待发送付款
type OutboundPayment struct {
	ID             int64           `gorm:"primaryKey"`
	ReportID       int64           `gorm:"uniqueIndex:uk_report_account;not null"`
	AccountAddress string          `gorm:"uniqueIndex:uk_report_account;size:24;not null"`
	TotalAmount    int64           `gorm:"not null"`
	ExchangeRate   decimal.Decimal `gorm:"type:decimal(24,10);not null"`
	TxID           *string         `gorm:"size:32"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (OutboundPayment) TableName() string { return "outbound_payments" }
