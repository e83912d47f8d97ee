package markethours

import "time"

type monthDay struct {
	month time.Month
	day   int
}

// nseHolidays holds the published NSE equity trading holidays per year.
// Weekend holidays are omitted; the market is shut anyway.
var nseHolidays = map[int][]monthDay{
	2024: {
		{time.January, 22},  // Special holiday
		{time.January, 26},  // Republic Day
		{time.March, 8},     // Mahashivratri
		{time.March, 25},    // Holi
		{time.March, 29},    // Good Friday
		{time.April, 11},    // Id-ul-Fitr
		{time.April, 17},    // Ram Navami
		{time.May, 1},       // Maharashtra Day
		{time.May, 20},      // General election, Mumbai
		{time.June, 17},     // Bakri Id
		{time.July, 17},     // Muharram
		{time.August, 15},   // Independence Day
		{time.October, 2},   // Mahatma Gandhi Jayanti
		{time.November, 1},  // Diwali Laxmi Pujan
		{time.November, 15}, // Gurunanak Jayanti
		{time.November, 20}, // Maharashtra assembly election
		{time.December, 25}, // Christmas
	},
	2025: {
		{time.February, 26}, // Mahashivratri
		{time.March, 14},    // Holi
		{time.March, 31},    // Id-ul-Fitr
		{time.April, 10},    // Mahavir Jayanti
		{time.April, 14},    // Dr. Ambedkar Jayanti
		{time.April, 18},    // Good Friday
		{time.May, 1},       // Maharashtra Day
		{time.August, 15},   // Independence Day
		{time.August, 27},   // Ganesh Chaturthi
		{time.October, 2},   // Mahatma Gandhi Jayanti
		{time.October, 21},  // Diwali Laxmi Pujan
		{time.October, 22},  // Diwali Balipratipada
		{time.November, 5},  // Gurunanak Jayanti
		{time.December, 25}, // Christmas
	},
	2026: {
		{time.January, 26},  // Republic Day
		{time.February, 17}, // Mahashivratri (tentative)
		{time.March, 14},    // Holi
		{time.March, 31},    // Id-ul-Fitr (tentative)
		{time.April, 2},     // Ram Navami (tentative)
		{time.April, 6},     // Mahavir Jayanti
		{time.April, 10},    // Good Friday
		{time.April, 14},    // Dr. Ambedkar Jayanti
		{time.May, 1},       // Maharashtra Day
		{time.June, 7},      // Bakri Id (tentative)
		{time.July, 6},      // Muharram (tentative)
		{time.August, 15},   // Independence Day
		{time.August, 16},   // Janmashtami (tentative)
		{time.September, 5}, // Milad-un-Nabi (tentative)
		{time.October, 2},   // Mahatma Gandhi Jayanti
		{time.October, 20},  // Dussehra
		{time.October, 21},  // Dussehra (tentative)
		{time.November, 5},  // Diwali Laxmi Pujan (tentative)
		{time.November, 6},  // Diwali Balipratipada (tentative)
		{time.November, 7},  // Bhai Dooj (tentative)
		{time.November, 19}, // Gurunanak Jayanti
		{time.December, 25}, // Christmas
	},
}

// fixedHolidays fall on the same date every year. They are the only
// holidays applied to a year with no published list.
var fixedHolidays = []monthDay{
	{time.January, 26},  // Republic Day
	{time.May, 1},       // Maharashtra Day
	{time.August, 15},   // Independence Day
	{time.October, 2},   // Mahatma Gandhi Jayanti
	{time.December, 25}, // Christmas
}

var holidaySet map[string]bool

func init() {
	holidaySet = make(map[string]bool)
	for year, days := range nseHolidays {
		for _, h := range days {
			holidaySet[dateKey(year, h.month, h.day)] = true
		}
	}
}

// HasCalendar reports whether the full holiday list for year is known.
func HasCalendar(year int) bool {
	_, ok := nseHolidays[year]
	return ok
}

// IsHoliday returns true if the date (in IST) is an NSE holiday.
func IsHoliday(t time.Time) bool {
	ist := t.In(IST)
	if HasCalendar(ist.Year()) {
		return holidaySet[dateKey(ist.Year(), ist.Month(), ist.Day())]
	}
	for _, h := range fixedHolidays {
		if ist.Month() == h.month && ist.Day() == h.day {
			return true
		}
	}
	return false
}

func dateKey(year int, month time.Month, day int) string {
	return time.Date(year, month, day, 0, 0, 0, 0, IST).Format("2006-01-02")
}
