package sqlitestore

import "time"

// nowUnix is the single place modified_at timestamps are stamped, so tests
// can see how freshness is derived without reaching into every method.
// All timestamps are milliseconds since the Unix epoch.
func nowUnix() int64 {
	return time.Now().UnixMilli()
}
