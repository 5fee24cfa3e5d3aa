package markethours

import (
	"fmt"
	"sync"
	"time"
)

// NSE trading holidays, as published on the exchange circulars.
var nseHolidays = []string{
	// 2025
	"2025-02-26", // Mahashivratri
	"2025-03-14", // Holi
	"2025-03-31", // Id-ul-Fitr
	"2025-04-10", // Mahavir Jayanti
	"2025-04-14", // Dr. Ambedkar Jayanti
	"2025-04-18", // Good Friday
	"2025-05-01", // Maharashtra Day
	"2025-08-15", // Independence Day
	"2025-08-27", // Ganesh Chaturthi
	"2025-10-02", // Gandhi Jayanti / Dussehra
	"2025-10-21", // Diwali Laxmi Pujan
	"2025-10-22", // Balipratipada
	"2025-11-05", // Guru Nanak Jayanti
	"2025-12-25", // Christmas
	// 2026 (some dates tentative)
	"2026-01-26",
	"2026-02-17",
	"2026-03-14",
	"2026-03-31",
	"2026-04-02",
	"2026-04-06",
	"2026-04-10",
	"2026-04-14",
	"2026-05-01",
	"2026-06-07",
	"2026-07-06",
	"2026-08-15",
	"2026-08-16",
	"2026-09-05",
	"2026-10-02",
	"2026-10-20",
	"2026-10-21",
	"2026-11-05",
	"2026-11-06",
	"2026-11-07",
	"2026-11-19",
	"2026-12-25",
}

var (
	holidayMu  sync.RWMutex
	holidaySet = make(map[string]bool, len(nseHolidays))
)

func init() {
	for _, d := range nseHolidays {
		holidaySet[d] = true
	}
}

// AddHolidays marks extra YYYY-MM-DD dates as closed. Used for
// special sessions the built-in list does not know about.
func AddHolidays(dates ...string) error {
	holidayMu.Lock()
	defer holidayMu.Unlock()
	for _, d := range dates {
		if _, err := time.ParseInLocation("2006-01-02", d, IST); err != nil {
			return fmt.Errorf("holiday %q: %w", d, err)
		}
		holidaySet[d] = true
	}
	return nil
}

// IsHoliday returns true if the date (in IST) is an NSE holiday.
func IsHoliday(t time.Time) bool {
	holidayMu.RLock()
	defer holidayMu.RUnlock()
	return holidaySet[t.In(IST).Format("2006-01-02")]
}
