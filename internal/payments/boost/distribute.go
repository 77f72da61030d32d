package boost

import "adserver.com/internal/payments/domain"

type Share struct {
	PublisherID int64
	Amount      int64
}

// Distribute 按 case 数量比例分 total，每份向下取整，取整剩下的给最大的一份（并列取第一个）
func Distribute(total int64, counts []domain.PublisherCaseCount) []Share {
	var all int64
	for _, c := range counts {
		if c.Cases > 0 {
			all += c.Cases
		}
	}
	if all == 0 || total <= 0 {
		return nil
	}

	shares := make([]Share, 0, len(counts))
	var given int64
	largest := -1
	for _, c := range counts {
		if c.Cases <= 0 {
			continue
		}
		amount := mulDiv(total, c.Cases, all)
		shares = append(shares, Share{PublisherID: c.PublisherID, Amount: amount})
		given += amount
		if largest < 0 || amount > shares[largest].Amount {
			largest = len(shares) - 1
		}
	}
	shares[largest].Amount += total - given
	return shares
}

// mulDiv floor(a*b/c)，拆开算避免 a*b 溢出
func mulDiv(a, b, c int64) int64 {
	q, r := a/c, a%c
	return q*b + r*b/c
}
