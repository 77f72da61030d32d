package ledger

import "adserver.com/internal/payments/domain"

// Balances 由流水实时汇总出来的投影，不落库
type Balances struct {
	Total        int64 `json:"total"`
	Wallet       int64 `json:"wallet"`
	Bonus        int64 `json:"bonus"`
	Withdrawable int64 `json:"withdrawable"`
}

// Summarize
//   - accepted 全部计入
//   - pending/blocked/awaiting_approval 只计入负数部分（预扣）
//   - canceled 不计入
//   - 可提现 = 钱包余额 - 不可提现充值，落在 [0, wallet]
func Summarize(sums []domain.LedgerSum) Balances {
	var b Balances
	var nonWithdrawable int64
	for _, s := range sums {
		var amount int64
		switch s.Status {
		case domain.LedgerStatusAccepted:
			amount = s.Credits + s.Debits
		case domain.LedgerStatusPending, domain.LedgerStatusBlocked, domain.LedgerStatusAwaitingApproval:
			amount = s.Debits
		default:
			continue
		}

		b.Total += amount
		if s.Type.IsBonus() {
			b.Bonus += amount
		} else {
			b.Wallet += amount
		}
		if s.Type == domain.LedgerTypeNonWithdrawableDeposit {
			nonWithdrawable += amount
		}
	}

	b.Withdrawable = b.Wallet - nonWithdrawable
	if b.Withdrawable < 0 {
		b.Withdrawable = 0
	}
	if b.Withdrawable > b.Wallet {
		b.Withdrawable = b.Wallet
	}
	return b
}

// available 不同扣款类型看的余额不一样
func (b Balances) available(t domain.LedgerType) int64 {
	switch t {
	case domain.LedgerTypeBonusExpense:
		return b.Bonus
	case domain.LedgerTypeWithdrawal:
		return b.Withdrawable
	default:
		return b.Total
	}
}
