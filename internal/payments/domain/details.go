package domain

// EventDetail 需求方返回的一条事件明细
type EventDetail struct {
	CaseID      string `json:"case_id"`
	PublisherID string `json:"publisher_id"`
	EventValue  int64  `json:"event_value"`
}

// BoostDetail 需求方返回的一条 campaign boost 明细
type BoostDetail struct {
	CampaignID string `json:"campaign_id"`
	Value      int64  `json:"value"`
}

type EventsSummary struct {
	Count int64 `json:"count"`
	Sum   int64 `json:"sum"`
}

// DetailsMeta 一笔付款在需求方的明细汇总
type DetailsMeta struct {
	Allocation int64         `json:"allocation"`
	Boost      int64         `json:"boost"`
	Events     EventsSummary `json:"events"`
}

func (m DetailsMeta) Total() int64 { return m.Allocation + m.Boost + m.Events.Sum }
