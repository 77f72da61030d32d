package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"adserver.com/pkg/xerr"
)

// 一次最多处理 31 天
const maxRangeHours = 31 * 24

var hourLayouts = []string{time.RFC3339, "2006-01-02T15", "2006-01-02 15:04", "2006-01-02"}

func ParseHour(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range hourLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(time.Hour), nil
		}
	}
	return time.Time{}, xerr.New(xerr.RequestParamsError, fmt.Sprintf("invalid hour %q", s))
}

// ParseHourRange 闭区间内的每个整点
func ParseHourRange(from, to string) ([]time.Time, error) {
	start, err := ParseHour(from)
	if err != nil {
		return nil, err
	}
	end, err := ParseHour(to)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, xerr.New(xerr.RequestParamsError, fmt.Sprintf("invalid range %s > %s", from, to))
	}
	n := int(end.Sub(start)/time.Hour) + 1
	if n > maxRangeHours {
		return nil, xerr.New(xerr.RequestParamsError, fmt.Sprintf("range too long: %d hours", n))
	}

	hours := make([]time.Time, 0, n)
	for h := start; !h.After(end); h = h.Add(time.Hour) {
		hours = append(hours, h)
	}
	return hours, nil
}

// ParseIDs 逗号分隔的报表 id，必须是整点时间戳
func ParseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 || id%3600 != 0 {
			return nil, xerr.New(xerr.RequestParamsError, fmt.Sprintf("invalid report id %q", part))
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, xerr.New(xerr.RequestParamsError, "no report ids")
	}
	return ids, nil
}
