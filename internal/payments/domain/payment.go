package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PaymentStatus int8

// AdsPayment 状态机
const (
	PaymentStatusNew                   PaymentStatus = 0 // 刚扫描入库，未分类
	PaymentStatusUserDeposit           PaymentStatus = 1 // 用户充值
	PaymentStatusEventPayment          PaymentStatus = 2 // 对账完成（终态）
	PaymentStatusInvalid               PaymentStatus = 3 // 不支持的交易类型（终态）
	PaymentStatusReserved              PaymentStatus = 4 // 超时未认领，人工处理
	PaymentStatusEventPaymentCandidate PaymentStatus = 5 // 等待按事件对账
)

func (s PaymentStatus) String() string {
	switch s {
	case PaymentStatusNew:
		return "NEW"
	case PaymentStatusUserDeposit:
		return "USER_DEPOSIT"
	case PaymentStatusEventPayment:
		return "EVENT_PAYMENT"
	case PaymentStatusInvalid:
		return "INVALID"
	case PaymentStatusReserved:
		return "RESERVED"
	case PaymentStatusEventPaymentCandidate:
		return "EVENT_PAYMENT_CANDIDATE"
	default:
		return "UNKNOWN"
	}
}

// AdsPayment 一笔打到平台地址的链上入账，金额单位 clicks
type AdsPayment struct {
	ID      int64         `gorm:"primaryKey"`
	TxID    string        `gorm:"uniqueIndex;size:32;not null"`
	Address string        `gorm:"size:24;index;not null"` // 付款方地址
	Amount  int64         `gorm:"not null"`
	Status  PaymentStatus `gorm:"index;not null;default:0"`
	TxTime  time.Time     `gorm:"index;not null"`

	// 最近一次处理失败的时间，换状态时清空；挑批次时排在没失败过的后面
	LastFailedAt *time.Time `gorm:"index"`

	CreatedAt time.Time      `gorm:"index"`
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (AdsPayment) TableName() string { return "ads_payments" }

// AdsPaymentMeta 对账断点，失败后从这里续跑
type AdsPaymentMeta struct {
	AdsPaymentID int64 `gorm:"primaryKey;autoIncrement:false"`

	DetailsFetched bool
	EventsCount    int64
	EventsSum      int64
	BoostSum       int64
	AllocationSum  int64

	// 第一次拉取 meta 时固定下来，重试时费率不漂移
	LicenseCoef    decimal.Decimal `gorm:"type:decimal(12,10);not null;default:0"`
	OperatorCoef   decimal.Decimal `gorm:"type:decimal(12,10);not null;default:0"`
	LicenseAddress *string         `gorm:"size:24"`

	EventsOffset  int
	BoostOffset   int
	EventsDone    bool
	BoostDone     bool
	SkippedEvents int
	SkippedBoost  int

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (AdsPaymentMeta) TableName() string { return "ads_payment_metas" }

// Progressed 是否已经开始从远端拉明细
func (m *AdsPaymentMeta) Progressed() bool {
	return m != nil && (m.DetailsFetched || m.EventsOffset > 0 || m.BoostOffset > 0)
}

// HourOf 营业额按小时归档
func HourOf(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}
