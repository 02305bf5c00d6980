package repository

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// memoryPath selects a private in-memory database.
const memoryPath = ":memory:"

// sqlitePragmas apply to file databases: WAL lets the API read while the
// worker writes.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
	"foreign_keys(ON)",
}

// sqliteDSN builds a modernc.org/sqlite DSN for path, creating the parent
// directory of file databases.
func sqliteDSN(path string) (string, error) {
	if path == "" {
		path = "./kestrel.db"
	}
	if path == memoryPath {
		return "file::memory:?_pragma=foreign_keys(ON)", nil
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	q := url.Values{}
	for _, p := range sqlitePragmas {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode(), nil
}
