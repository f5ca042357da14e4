package transform

import (
	"sort"
	"time"
)

// DateRow is one dim_date row.
type DateRow struct {
	Key       int32
	Date      time.Time
	Day       int32
	Month     int32
	Year      int32
	Quarter   int32
	Week      int32
	DayName   string
	IsWeekend bool
}

// DateKey formats a calendar date as the integer YYYYMMDD. The date's own
// year, month and day are used; no timezone conversion happens.
func DateKey(t time.Time) int32 {
	y, m, d := t.Date()
	return int32(y*10000 + int(m)*100 + d)
}

// NewDateRow derives the calendar attributes of a date.
func NewDateRow(t time.Time) DateRow {
	y, m, d := t.Date()
	_, week := t.ISOWeek()
	wd := t.Weekday()

	return DateRow{
		Key:       DateKey(t),
		Date:      time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		Day:       int32(d),
		Month:     int32(m),
		Year:      int32(y),
		Quarter:   int32((int(m)-1)/3 + 1),
		Week:      int32(week),
		DayName:   wd.String(),
		IsWeekend: wd == time.Saturday || wd == time.Sunday,
	}
}

// SynthesizeDateDim returns one row per distinct order date in the sales
// detail, ordered by key.
func SynthesizeDateDim(rows []SalesDetail) []DateRow {
	byKey := make(map[int32]DateRow)
	for _, r := range rows {
		k := DateKey(r.OrderDate)
		if _, ok := byKey[k]; !ok {
			byKey[k] = NewDateRow(r.OrderDate)
		}
	}

	dates := make([]DateRow, 0, len(byKey))
	for _, d := range byKey {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Key < dates[j].Key })
	return dates
}
