package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"adserver.com/internal/payments/domain"
)

const (
	HostAddress     = "0001-00000001-8B4E"
	PlatformAddress = "0001-00000005-CBCA"
)

// Clicks 1 ADS = 10^11 clicks
const Clicks int64 = 100_000_000_000

var txSeq int

func NextTxID() string {
	txSeq++
	return fmt.Sprintf("0001:%08X:%04X", txSeq, txSeq%0xFFFF)
}

func CreateUser(t *testing.T, db *gorm.DB, id int64, depositAddress string) domain.User {
	t.Helper()
	u := domain.User{ID: id, UUID: fmt.Sprintf("%032x", id), Email: fmt.Sprintf("user%d@example.com", id)}
	if depositAddress != "" {
		u.DepositAddress = &depositAddress
	}
	require.NoError(t, db.Create(&u).Error)
	return u
}

func CreateHost(t *testing.T, db *gorm.DB, address, baseURL string) domain.NetworkHost {
	t.Helper()
	h := domain.NetworkHost{Address: address, Host: baseURL, Name: "dsp"}
	require.NoError(t, db.Create(&h).Error)
	return h
}

func CreatePayment(t *testing.T, db *gorm.DB, address string, amount int64, status domain.PaymentStatus, txTime time.Time) domain.AdsPayment {
	t.Helper()
	p := domain.AdsPayment{TxID: NextTxID(), Address: address, Amount: amount, Status: status, TxTime: txTime}
	require.NoError(t, db.Create(&p).Error)
	return p
}

// CreateCases 给一个发布方在某个 campaign 下造 n 个 case，返回 case_id
func CreateCases(t *testing.T, db *gorm.DB, publisherID int64, campaignID string, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		imp := domain.NetworkImpression{ImpressionID: fmt.Sprintf("imp-%d-%s-%d", publisherID, campaignID, i)}
		require.NoError(t, db.Create(&imp).Error)
		c := domain.NetworkCase{
			CaseID:              fmt.Sprintf("case-%d-%s-%d", publisherID, campaignID, i),
			NetworkImpressionID: imp.ID,
			PublisherID:         publisherID,
			SiteID:              publisherID * 10,
			ZoneID:              publisherID * 100,
			CampaignID:          campaignID,
		}
		require.NoError(t, db.Create(&c).Error)
		ids = append(ids, c.CaseID)
	}
	return ids
}

func CountRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}
