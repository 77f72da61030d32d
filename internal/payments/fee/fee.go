package fee

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"adserver.com/pkg/logger"
)

// KindSupply 发布方侧收入的 license 费率
const KindSupply = "supply"

var (
	ErrNegativeAmount = errors.New("fee: negative gross amount")
	ErrCoefOutOfRange = errors.New("fee: coefficient out of [0, 1]")
	one               = decimal.NewFromInt(1)
)

// Split 一笔金额的拆分，License + Operator + Publishers == Gross
type Split struct {
	Gross      int64
	License    int64
	Operator   int64
	Publishers int64
}

func (s Split) Total() int64 { return s.License + s.Operator + s.Publishers }

func (s Split) Add(o Split) Split {
	return Split{
		Gross:      s.Gross + o.Gross,
		License:    s.License + o.License,
		Operator:   s.Operator + o.Operator,
		Publishers: s.Publishers + o.Publishers,
	}
}

// Compute 每次调用单独向下取整，调用方按事件逐条算，不在批次上累计小数
//
//	license    = floor(gross * licenseCoef)
//	operator   = floor((gross - license) * operatorCoef)
//	publishers = gross - license - operator
func Compute(gross int64, licenseCoef, operatorCoef decimal.Decimal) (Split, error) {
	if gross < 0 {
		return Split{}, fmt.Errorf("%w: %d", ErrNegativeAmount, gross)
	}
	if err := checkCoef(licenseCoef); err != nil {
		return Split{}, err
	}
	if err := checkCoef(operatorCoef); err != nil {
		return Split{}, err
	}

	license := FloorMul(gross, licenseCoef)
	operator := FloorMul(gross-license, operatorCoef)
	return Split{
		Gross:      gross,
		License:    license,
		Operator:   operator,
		Publishers: gross - license - operator,
	}, nil
}

// FloorMul floor(amount * coef)
func FloorMul(amount int64, coef decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(coef).Floor().IntPart()
}

func checkCoef(c decimal.Decimal) error {
	if c.IsNegative() || c.GreaterThan(one) {
		return fmt.Errorf("%w: %s", ErrCoefOutOfRange, c.String())
	}
	return nil
}

// Coefficients 一次对账里固定使用的费率
type Coefficients struct {
	License        decimal.Decimal
	Operator       decimal.Decimal
	LicenseAddress string
}

type LicenseReader interface {
	GetFee(ctx context.Context, kind string) (decimal.Decimal, error)
	GetAddress(ctx context.Context) (string, error)
}

// Resolve 读不到 license 时按 0 处理，这部分钱归发布方
func Resolve(ctx context.Context, r LicenseReader, operator decimal.Decimal) Coefficients {
	c := Coefficients{License: decimal.Zero, Operator: operator}
	if r == nil {
		logger.Warn(ctx, "No license payment", zap.String("reason", "license reader not configured"))
		return c
	}

	coef, err := r.GetFee(ctx, KindSupply)
	if err == nil {
		err = checkCoef(coef)
	}
	if err != nil {
		logger.Error(ctx, "No license payment", zap.Error(err))
		return c
	}
	addr, err := r.GetAddress(ctx)
	if err != nil {
		logger.Error(ctx, "No license payment", zap.Error(err))
		return c
	}

	c.License = coef
	c.LicenseAddress = addr
	return c
}
