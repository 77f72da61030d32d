package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"adserver.com/internal/payments/domain"
	"adserver.com/pkg/xerr"
)

type txKey struct{}

// txState 外层事务和提交后回调
type txState struct {
	db    *gorm.DB
	hooks []func()
}

type Repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repo { return &Repo{db: db} }

// 确保 Repo 实现了所有接口
var (
	_ domain.Transactor     = (*Repo)(nil)
	_ domain.AdsPaymentRepo = (*Repo)(nil)
	_ domain.NetworkRepo    = (*Repo)(nil)
	_ domain.LedgerRepo     = (*Repo)(nil)
	_ domain.BoostRepo      = (*Repo)(nil)
	_ domain.TurnoverRepo   = (*Repo)(nil)
	_ domain.UserRepo       = (*Repo)(nil)
	_ domain.CursorRepo     = (*Repo)(nil)
	_ domain.ReportRepo     = (*Repo)(nil)
)

// Models 参与建表的全部实体
func Models() []interface{} {
	return []interface{}{
		&domain.AdsPayment{},
		&domain.AdsPaymentMeta{},
		&domain.NetworkHost{},
		&domain.NetworkImpression{},
		&domain.NetworkCase{},
		&domain.NetworkCasePayment{},
		&domain.NetworkBoostPayment{},
		&domain.PublisherBoostLedgerEntry{},
		&domain.TurnoverEntry{},
		&domain.UserLedgerEntry{},
		&domain.LedgerAccount{},
		&domain.User{},
		&domain.ScanCursor{},
		&domain.PaymentReport{},
		&domain.OutboundPaymentItem{},
		&domain.OutboundPayment{},
	}
}

func (r *Repo) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(Models()...)
}

// Transaction ctx 里已经有事务时直接复用，不开嵌套事务
func (r *Repo) Transaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	if st, ok := ctx.Value(txKey{}).(*txState); ok && st != nil {
		return fn(ctx)
	}

	st := &txState{}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		st.db = tx
		return fn(context.WithValue(ctx, txKey{}, st))
	})
	if err != nil {
		return err
	}
	for _, h := range st.hooks {
		h()
	}
	return nil
}

func (r *Repo) AfterCommit(ctx context.Context, fn func()) {
	if st, ok := ctx.Value(txKey{}).(*txState); ok && st != nil {
		st.hooks = append(st.hooks, fn)
		return
	}
	fn()
}

func (r *Repo) getDb(ctx context.Context) *gorm.DB {
	if st, ok := ctx.Value(txKey{}).(*txState); ok && st != nil && st.db != nil {
		return st.db
	}
	return r.db.WithContext(ctx)
}

// dbErr 统一转换：找不到记录 -> domain.ErrNotFound，死锁/锁等待超时 -> Transient，其余包成 DbError
func dbErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	if isRetryable(err) {
		return xerr.Wrap(err, xerr.Transient, op)
	}
	return xerr.Wrap(err, xerr.DbError, op)
}

// 1213 死锁，1205 锁等待超时，下次调度重试即可
func isRetryable(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1213 || me.Number == 1205
	}
	return false
}
