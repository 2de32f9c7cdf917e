package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"remindflow/internal/domain"
)

var (
	reMeridiem = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	reClock24  = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	reNumDate  = regexp.MustCompile(`\b(\d{1,2})[/.](\d{1,2})(?:[/.](\d{2,4}))?\b`)
	reWordDate = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s+(\d{4}))?\b`)
)

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// Indexed by time.Weekday.
var weekdayNames = [7]string{
	"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday",
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// parseDate finds the first recognizable date in text, resolved against
// now in now's location. Relative tokens win over explicit dates since
// chat text like "tomorrow" is the common case.
func parseDate(text string, now time.Time) *time.Time {
	lower := strings.ToLower(text)
	today := midnight(now)

	if containsWord(lower, "today") || containsWord(lower, "tonight") {
		return &today
	}
	if containsWord(lower, "tomorrow") {
		d := today.AddDate(0, 0, 1)
		return &d
	}
	// When several weekdays are named, the first-mentioned one wins.
	bestPos := -1
	var bestDay time.Weekday
	for i, name := range weekdayNames {
		if pos := indexWord(lower, name); pos >= 0 && (bestPos < 0 || pos < bestPos) {
			bestPos = pos
			bestDay = time.Weekday(i)
		}
	}
	if bestPos >= 0 {
		days := int(bestDay-now.Weekday()+7) % 7
		if days == 0 {
			days = 7 // weekday names mean the next occurrence, not today
		}
		d := today.AddDate(0, 0, days)
		return &d
	}

	if m := reWordDate.FindStringSubmatch(lower); m != nil {
		day, _ := strconv.Atoi(m[2])
		year := now.Year()
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
		}
		month := months[m[1]]
		if day >= 1 && day <= 31 {
			d := time.Date(year, month, day, 0, 0, 0, 0, now.Location())
			if m[3] == "" && d.Before(today) {
				d = d.AddDate(1, 0, 0)
			}
			return &d
		}
	}

	if m := reNumDate.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[1])
		monthNum, _ := strconv.Atoi(m[2])
		year := now.Year()
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
			if year < 100 {
				year += 2000
			}
		}
		if day >= 1 && day <= 31 && monthNum >= 1 && monthNum <= 12 {
			d := time.Date(year, time.Month(monthNum), day, 0, 0, 0, 0, now.Location())
			if m[3] == "" && d.Before(today) {
				d = d.AddDate(1, 0, 0)
			}
			return &d
		}
	}

	return nil
}

// parseClock finds the first recognizable time of day in text.
func parseClock(text string) *domain.ClockTime {
	lower := strings.ToLower(text)

	if m := reMeridiem.FindStringSubmatch(lower); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour >= 1 && hour <= 12 && minute <= 59 {
			if m[3] == "pm" && hour != 12 {
				hour += 12
			}
			if m[3] == "am" && hour == 12 {
				hour = 0
			}
			return &domain.ClockTime{Hour: hour, Minute: minute}
		}
	}

	if containsWord(lower, "noon") {
		return &domain.ClockTime{Hour: 12}
	}
	if containsWord(lower, "midnight") {
		return &domain.ClockTime{Hour: 0}
	}

	if m := reClock24.FindStringSubmatch(lower); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		if hour <= 23 && minute <= 59 {
			return &domain.ClockTime{Hour: hour, Minute: minute}
		}
	}

	return nil
}

func containsWord(lower, word string) bool {
	return indexWord(lower, word) >= 0
}

// indexWord returns the position of the first whole-word occurrence of
// word in lower, or -1.
func indexWord(lower, word string) int {
	idx := 0
	for {
		i := strings.Index(lower[idx:], word)
		if i < 0 {
			return -1
		}
		i += idx
		before := i == 0 || !isWordChar(lower[i-1])
		afterIdx := i + len(word)
		after := afterIdx >= len(lower) || !isWordChar(lower[afterIdx])
		if before && after {
			return i
		}
		idx = i + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
