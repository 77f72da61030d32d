package domain

import "time"

// NetworkHost 已知的需求方节点
type NetworkHost struct {
	ID        int64  `gorm:"primaryKey"`
	Address   string `gorm:"uniqueIndex;size:24;not null"`
	Host      string `gorm:"size:255;not null"` // 明细接口的 base url
	Name      string `gorm:"size:64"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (NetworkHost) TableName() string { return "network_hosts" }

type NetworkImpression struct {
	ID           int64  `gorm:"primaryKey"`
	ImpressionID string `gorm:"uniqueIndex;size:32;not null"`
	CreatedAt    time.Time
}

func (NetworkImpression) TableName() string { return "network_impressions" }

// NetworkCase 发布方侧的一次展示，远端用 case_id 关联
type NetworkCase struct {
	ID                  int64  `gorm:"primaryKey"`
	CaseID              string `gorm:"uniqueIndex;size:32;not null"`
	NetworkImpressionID int64  `gorm:"index"`
	PublisherID         int64  `gorm:"index;not null"`
	SiteID              int64
	ZoneID              int64
	CampaignID          string `gorm:"index;size:32;not null"`
	CreatedAt           time.Time
}

func (NetworkCase) TableName() string { return "network_cases" }

// NetworkCasePayment 一个 case 只能被支付一次，只追加
type NetworkCasePayment struct {
	ID            int64 `gorm:"primaryKey"`
	AdsPaymentID  int64 `gorm:"index;not null"`
	NetworkCaseID int64 `gorm:"uniqueIndex;not null"`
	EventValue    int64 `gorm:"not null"`
	LicenseFee    int64 `gorm:"not null"`
	OperatorFee   int64 `gorm:"not null"`
	PaidAmount    int64 `gorm:"not null"`
	PayTime       time.Time
}

func (NetworkCasePayment) TableName() string { return "network_case_payments" }

// NetworkBoostPayment 只追加
type NetworkBoostPayment struct {
	ID           int64  `gorm:"primaryKey"`
	AdsPaymentID int64  `gorm:"uniqueIndex:uk_payment_campaign;not null"`
	CampaignID   string `gorm:"uniqueIndex:uk_payment_campaign;size:32;not null"`
	TotalAmount  int64  `gorm:"not null"`
	LicenseFee   int64  `gorm:"not null"`
	OperatorFee  int64  `gorm:"not null"`
	PayTime      time.Time
}

func (NetworkBoostPayment) TableName() string { return "network_boost_payments" }

// PublisherBoostLedgerEntry 发布方在某个付款地址下锁定的 boost，先进先出消耗
type PublisherBoostLedgerEntry struct {
	ID           int64  `gorm:"primaryKey"`
	UserID       int64  `gorm:"index:idx_boost_owner;not null"`
	AdsAddress   string `gorm:"index:idx_boost_owner;size:24;not null"`
	Amount       int64  `gorm:"not null"`
	AmountLeft   int64  `gorm:"not null"`
	AdsPaymentID int64  `gorm:"index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (PublisherBoostLedgerEntry) TableName() string { return "network_boost_ledger_entries" }

// PublisherPayout 某笔入账里一个发布方的汇总
type PublisherPayout struct {
	PublisherID int64
	EventValue  int64
	LicenseFee  int64
	OperatorFee int64
	PaidAmount  int64
}

type PublisherCaseCount struct {
	PublisherID int64
	Cases       int64
}

type BoostTotals struct {
	TotalAmount int64
	LicenseFee  int64
	OperatorFee int64
	Locked      int64
}
