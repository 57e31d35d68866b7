package utils

import (
	"math/rand"
	"os"
	"testing"

	cp "github.com/otiai10/copy"
)

// Salt perturbs expected values by a random amount so tests can't pass by
// accidentally hardcoding a value derived from the key alone.
// + 1 is necessary because rand.Int63n(_) can return 0.
var Salt int64 = rand.Int63n(1000) + 1

// EnsureCleanup registers fn to run when t and all its subtests finish,
// regardless of whether the test failed.
func EnsureCleanup(t *testing.T, fn func()) {
	t.Cleanup(fn)
}

// GetTempDbFile creates a random file in the OS's temp directory for a test
// to use as a pager-backed file, returning its name. The file (and nothing
// else, since the directory page now lives in the same file as everything
// else) is removed once the test finishes.
func GetTempDbFile(t *testing.T) string {
	tmpfile, err := os.CreateTemp("", "*.db")
	if err != nil {
		t.Fatal(err)
	}
	_ = tmpfile.Close()

	EnsureCleanup(t, func() {
		_ = os.Remove(tmpfile.Name())
	})
	return tmpfile.Name()
}

// CloneDBFile copies an existing pager-backed file to a new temp file, for
// stress trials that want to run repeated randomized workloads against the
// same pre-populated index without paying to rebuild it from scratch each
// time. The clone is removed when t finishes.
func CloneDBFile(t *testing.T, src string) string {
	dst := GetTempDbFile(t)
	if err := cp.Copy(src, dst); err != nil {
		t.Fatal("Failed to clone db file:", err)
	}
	return dst
}
