package scan

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"adserver.com/internal/payments/blockchain"
	"adserver.com/internal/payments/domain"
	"adserver.com/pkg/logger"
)

const (
	cursorBlocks = "ads:blocks"
	cursorLog    = "ads:log"
)

type Chain interface {
	GetBlockIDs(ctx context.Context, from string) ([]string, error)
	GetLog(ctx context.Context, from time.Time) ([]blockchain.LogEntry, error)
}

type Repo interface {
	CreateAdsPayment(ctx context.Context, p *domain.AdsPayment) (bool, error)
	domain.CursorRepo
}

type Result struct {
	Blocks     int
	Created    int
	Duplicates int
}

// Scanner 把平台账户的入账流水落成 NEW 状态的 AdsPayment
type Scanner struct {
	chain Chain
	repo  Repo
}

func NewScanner(c Chain, r Repo) *Scanner {
	return &Scanner{chain: c, repo: r}
}

func (s *Scanner) Run(ctx context.Context) (Result, error) {
	var res Result

	from, err := s.repo.GetCursor(ctx, cursorBlocks)
	if err != nil {
		return res, err
	}
	blocks, err := s.chain.GetBlockIDs(ctx, from)
	if err != nil {
		return res, err
	}
	res.Blocks = len(blocks)
	if len(blocks) > 0 {
		if err := s.repo.SaveCursor(ctx, cursorBlocks, blocks[len(blocks)-1]); err != nil {
			return res, err
		}
	}

	logFrom, err := s.logCursor(ctx)
	if err != nil {
		return res, err
	}
	entries, err := s.chain.GetLog(ctx, logFrom)
	if err != nil {
		return res, err
	}

	// 同一秒的流水可能被重复读到，靠 tx_id 唯一索引去重
	last := logFrom
	for _, e := range entries {
		if e.Time.After(last) {
			last = e.Time
		}
		if e.InOut != "in" || e.ID == "" {
			continue
		}
		created, err := s.repo.CreateAdsPayment(ctx, &domain.AdsPayment{
			TxID:    e.ID,
			Address: e.Address,
			Amount:  e.Amount,
			Status:  domain.PaymentStatusNew,
			TxTime:  e.Time,
		})
		if err != nil {
			return res, err
		}
		if created {
			res.Created++
		} else {
			res.Duplicates++
		}
	}

	if last.After(logFrom) {
		if err := s.repo.SaveCursor(ctx, cursorLog, strconv.FormatInt(last.Unix(), 10)); err != nil {
			return res, err
		}
	}
	logger.Info(ctx, "blockchain scanned",
		zap.Int("blocks", res.Blocks), zap.Int("created", res.Created), zap.Int("duplicates", res.Duplicates))
	return res, nil
}

func (s *Scanner) logCursor(ctx context.Context) (time.Time, error) {
	v, err := s.repo.GetCursor(ctx, cursorLog)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		logger.Warn(ctx, "bad log cursor, rescanning", zap.String("value", v))
		return time.Time{}, nil
	}
	return time.Unix(sec, 0).UTC(), nil
}
