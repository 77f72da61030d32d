package domain

import (
	"context"
	"time"
)

// Transactor 事务放在 ctx 里传递，嵌套调用复用外层事务
type Transactor interface {
	Transaction(ctx context.Context, fn func(txCtx context.Context) error) error
	// AfterCommit 外层事务提交成功后执行；不在事务里则立即执行
	AfterCommit(ctx context.Context, fn func())
}

type AdsPaymentRepo interface {
	// CreateAdsPayment tx_id 重复时返回 false
	CreateAdsPayment(ctx context.Context, p *AdsPayment) (bool, error)
	// FindAdsPaymentsByStatus 没失败过的在前，失败过的按失败时间轮转
	FindAdsPaymentsByStatus(ctx context.Context, status PaymentStatus, limit int) ([]AdsPayment, error)
	GetAdsPayment(ctx context.Context, id int64) (*AdsPayment, error)
	// LockAdsPayment SELECT ... FOR UPDATE，必须在事务里调用
	LockAdsPayment(ctx context.Context, id int64) (*AdsPayment, error)
	// UpdateAdsPaymentStatus 只在当前状态是 from 时更新，否则 ErrStatusChanged
	UpdateAdsPaymentStatus(ctx context.Context, id int64, from, to PaymentStatus) error
	MarkAdsPaymentFailed(ctx context.Context, id int64, at time.Time) error
	// ReserveStaleCandidates 只动至少失败过一次、还没有进度的候选
	ReserveStaleCandidates(ctx context.Context, before time.Time) (int64, error)

	// GetMeta 不存在时返回一个未保存的空 meta
	GetMeta(ctx context.Context, paymentID int64) (*AdsPaymentMeta, error)
	SaveMeta(ctx context.Context, meta *AdsPaymentMeta) error
}

type NetworkRepo interface {
	FindHostByAddress(ctx context.Context, address string) (*NetworkHost, error)
	FindCasesByCaseIDs(ctx context.Context, caseIDs []string) (map[string]NetworkCase, error)
	CountCasesByPublisher(ctx context.Context, campaignID string) ([]PublisherCaseCount, error)
	// CreateCasePayment case 已经被支付过时返回 false
	CreateCasePayment(ctx context.Context, p *NetworkCasePayment) (bool, error)
	CreateBoostPayment(ctx context.Context, p *NetworkBoostPayment) (bool, error)
	SumCasePaymentsByPublisher(ctx context.Context, paymentID int64) ([]PublisherPayout, error)
	SumBoostPayments(ctx context.Context, paymentID int64) (BoostTotals, error)
}

type LedgerRepo interface {
	LockLedgerAccount(ctx context.Context, userID int64) error
	AppendLedgerEntry(ctx context.Context, e *UserLedgerEntry) error
	SumLedger(ctx context.Context, userID int64) ([]LedgerSum, error)
	CountLedgerEntries(ctx context.Context, userID int64) (int64, error)
}

type BoostRepo interface {
	CreateBoostEntry(ctx context.Context, e *PublisherBoostLedgerEntry) error
	// LockBoostEntries amount_left > 0 的条目，按创建顺序加锁返回
	LockBoostEntries(ctx context.Context, userID int64, address string) ([]PublisherBoostLedgerEntry, error)
	UpdateBoostAmountLeft(ctx context.Context, id, from, to int64) error
	SumBoostLeft(ctx context.Context, userID int64, address string) (int64, error)
}

type TurnoverRepo interface {
	AppendTurnover(ctx context.Context, e *TurnoverEntry) error
	SumTurnoverByType(ctx context.Context, paymentID int64) (map[TurnoverType]int64, error)
}

type UserRepo interface {
	FindUserByDepositAddress(ctx context.Context, address string) (*User, error)
}

type CursorRepo interface {
	GetCursor(ctx context.Context, name string) (string, error)
	SaveCursor(ctx context.Context, name, value string) error
}

type ReportRepo interface {
	CreateReport(ctx context.Context, id int64) (bool, error)
	FindReports(ctx context.Context, ids []int64) ([]PaymentReport, error)
	// FindUnfinishedReports 只取 id >= since 的未完成报表
	FindUnfinishedReports(ctx context.Context, since int64, limit int) ([]PaymentReport, error)
	UpdateReportStatus(ctx context.Context, id int64, status ReportStatus) error
	FindOutboundItems(ctx context.Context, reportID int64) ([]OutboundPaymentItem, error)
	// UpsertOutboundPayment 已发送（tx_id 非空）的行不会被覆盖
	UpsertOutboundPayment(ctx context.Context, p *OutboundPayment) error
	FindUnsentOutboundPayments(ctx context.Context, reportID int64) ([]OutboundPayment, error)
	// MarkOutboundPaymentsSent 返回认领到的行数
	MarkOutboundPaymentsSent(ctx context.Context, ids []int64, txID string) (int64, error)
	// ReplaceOutboundTxID 只改 tx_id 等于 from 的行，to 为 nil 表示放回未发送
	ReplaceOutboundTxID(ctx context.Context, ids []int64, from string, to *string) error
}
