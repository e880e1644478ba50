//go:build integration

package testdb

import "os"

// Environment variables checked for a test database, in order of preference.
var databaseURLVars = []string{"DOCREVIEW_TEST_DB_URL", "DATABASE_URL"}

// GetTestDatabaseURL returns the first configured test database URL, or "".
func GetTestDatabaseURL() string {
	for _, v := range databaseURLVars {
		if url := os.Getenv(v); url != "" {
			return url
		}
	}
	return ""
}

// ShouldSkipDatabaseTest reports whether no test database is configured.
func ShouldSkipDatabaseTest() bool {
	return GetTestDatabaseURL() == ""
}
