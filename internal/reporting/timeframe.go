package reporting

import "time"

// Timeframe names a reporting window relative to "now".
type Timeframe string

const (
	TimeframeToday      Timeframe = "today"
	TimeframeYesterday  Timeframe = "yesterday"
	TimeframeThisWeek   Timeframe = "this_week"
	TimeframeThisMonth  Timeframe = "this_month"
	TimeframeLast7Days  Timeframe = "last_7_days"
	TimeframeLast30Days Timeframe = "last_30_days"
	TimeframeCustom     Timeframe = "custom"
)

const dateLayout = "2006-01-02"

// Resolve maps a timeframe name to an inclusive [startDate, endDate] pair
// of YYYY-MM-DD strings. Weeks start on Monday. Unknown names and custom
// ranges with missing or malformed dates fall back to today; the
// effective timeframe is returned so callers can report what was served.
func Resolve(now time.Time, name, fromDate, toDate string) (Timeframe, string, string) {
	today := now.Format(dateLayout)

	switch Timeframe(name) {
	case TimeframeToday:
		return TimeframeToday, today, today
	case TimeframeYesterday:
		y := now.AddDate(0, 0, -1).Format(dateLayout)
		return TimeframeYesterday, y, y
	case TimeframeThisWeek:
		return TimeframeThisWeek, mondayOf(now).Format(dateLayout), today
	case TimeframeThisMonth:
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return TimeframeThisMonth, first.Format(dateLayout), today
	case TimeframeLast7Days:
		return TimeframeLast7Days, now.AddDate(0, 0, -6).Format(dateLayout), today
	case TimeframeLast30Days:
		return TimeframeLast30Days, now.AddDate(0, 0, -29).Format(dateLayout), today
	case TimeframeCustom:
		if validDate(fromDate) && validDate(toDate) && fromDate <= toDate {
			return TimeframeCustom, fromDate, toDate
		}
		return TimeframeToday, today, today
	}

	return TimeframeToday, today, today
}

// mondayOf returns the Monday of now's ISO week at midnight.
func mondayOf(now time.Time) time.Time {
	weekday := int(now.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	day := now.AddDate(0, 0, -(weekday - 1))
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, now.Location())
}

func validDate(s string) bool {
	_, err := time.Parse(dateLayout, s)
	return err == nil
}
