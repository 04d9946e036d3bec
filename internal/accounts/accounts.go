// Package accounts implements domain.AccountDirectory over Postgres and over
// process memory.
package accounts

import "time"

// PeriodKey buckets admin spending by calendar month (UTC).
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
