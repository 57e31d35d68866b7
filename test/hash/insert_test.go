package hash_test

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"xhash/pkg/hash"
	"xhash/pkg/hash/txn"
	"xhash/pkg/pager"
	"xhash/pkg/pair"
	"xhash/test/utils"

	"golang.org/x/sync/errgroup"
)

// identityHash is the reference hash function spec'd end-to-end scenarios
// are written against: the key itself, so routing is easy to predict.
func identityHash(k int64) uint64 { return uint64(k) }

func int64Config() hash.Config[int64, int64] {
	return hash.Config[int64, int64]{
		KeyCodec:   pair.Int64Codec{},
		ValueCodec: pair.Int64Codec{},
		Compare: func(a, b int64) int {
			switch {
			case a < b:
				return -1
			case a > b:
				return 1
			default:
				return 0
			}
		},
		Hash:       identityHash,
		ValueEqual: func(a, b int64) bool { return a == b },
	}
}

// pairCapacity mirrors the bucket-page capacity formula for int64/int64
// pairs, since the derivation itself is unexported.
func pairCapacity() int {
	pairSize := 2 * binary.MaxVarintLen64
	return int((4 * pager.Pagesize) / int64(4*pairSize+1))
}

func setupHash(t *testing.T) *hash.HashTable[int64, int64] {
	t.Parallel()
	dbName := utils.GetTempDbFile(t)
	p, err := pager.New(dbName)
	if err != nil {
		t.Fatal("Failed to create pager:", err)
	}
	table, err := hash.New(p, int64Config())
	if err != nil {
		t.Fatal("Failed to create hash table:", err)
	}
	return table
}

func closeAndReopen(t *testing.T, table *hash.HashTable[int64, int64], filename string) *hash.HashTable[int64, int64] {
	if err := table.Close(); err != nil {
		t.Fatal("Failed to close hash table:", err)
	}
	p, err := pager.New(filename)
	if err != nil {
		t.Fatal("Failed to reopen pager:", err)
	}
	reopened, err := hash.Open(p, int64Config())
	if err != nil {
		t.Fatal("Failed to reopen hash table:", err)
	}
	return reopened
}

func mustInsert(t *testing.T, table *hash.HashTable[int64, int64], k, v int64) bool {
	ok, err := table.Insert(txn.New(), k, v)
	if err != nil {
		t.Fatal("Insert failed:", err)
	}
	return ok
}

func mustRemove(t *testing.T, table *hash.HashTable[int64, int64], k, v int64) bool {
	ok, err := table.Remove(txn.New(), k, v)
	if err != nil {
		t.Fatal("Remove failed:", err)
	}
	return ok
}

func mustGetValue(t *testing.T, table *hash.HashTable[int64, int64], k int64) []int64 {
	vals, err := table.GetValue(txn.New(), k)
	if err != nil {
		t.Fatal("GetValue failed:", err)
	}
	return vals
}

func containsAll(got []int64, want ...int64) bool {
	seen := make(map[int64]bool, len(got))
	for _, v := range got {
		seen[v] = true
	}
	if len(seen) != len(want) {
		return false
	}
	for _, w := range want {
		if !seen[w] {
			return false
		}
	}
	return true
}

func TestHash(t *testing.T) {
	t.Run("Basic", testBasic)
	t.Run("ForcedSplit", testForcedSplit)
	t.Run("Merge", testMerge)
	t.Run("DirectoryConsistency", testDirectoryConsistency)
	t.Run("ConcurrentReaders", testConcurrentReaders)
	t.Run("Stress", testStress)
	t.Run("DuplicateRejection", testDuplicateRejection)
	t.Run("RemoveIdempotent", testRemoveIdempotent)
	t.Run("Persistence", testPersistence)
}

// Inserted data, including data that forced a split, survives a close and
// reopen of the backing pager.
func testPersistence(t *testing.T) {
	dbName := utils.GetTempDbFile(t)
	p, err := pager.New(dbName)
	if err != nil {
		t.Fatal("Failed to create pager:", err)
	}
	table, err := hash.New(p, int64Config())
	if err != nil {
		t.Fatal("Failed to create hash table:", err)
	}

	capacity := pairCapacity()
	for i := 0; i <= capacity; i++ {
		k := int64(2 * i)
		mustInsert(t, table, k, k)
	}

	table = closeAndReopen(t, table, dbName)
	defer table.Close()

	depth, err := table.GetGlobalDepth()
	if err != nil {
		t.Fatal(err)
	}
	if depth != 2 {
		t.Fatalf("global depth after reopen = %d, want 2", depth)
	}
	for i := 0; i <= capacity; i++ {
		k := int64(2 * i)
		if got := mustGetValue(t, table, k); !containsAll(got, k) {
			t.Fatalf("GetValue(%d) after reopen = %v, want [%d]", k, got, k)
		}
	}
}

// S1: basic insert/get/remove behavior, including duplicate rejection.
func testBasic(t *testing.T) {
	table := setupHash(t)

	for i := int64(0); i <= 5; i++ {
		if !mustInsert(t, table, i, i) {
			t.Fatalf("Insert(%d,%d) unexpectedly returned false", i, i)
		}
	}
	if mustInsert(t, table, 0, 0) {
		t.Fatal("Duplicate Insert(0,0) should have returned false")
	}
	for i := int64(1); i <= 5; i++ {
		if !mustInsert(t, table, i, 2*i) {
			t.Fatalf("Insert(%d,%d) unexpectedly returned false", i, 2*i)
		}
	}

	if got := mustGetValue(t, table, 0); !containsAll(got, 0) {
		t.Fatalf("GetValue(0) = %v, want [0]", got)
	}
	for i := int64(1); i <= 5; i++ {
		if got := mustGetValue(t, table, i); !containsAll(got, i, 2*i) {
			t.Fatalf("GetValue(%d) = %v, want {%d, %d}", i, got, i, 2*i)
		}
	}

	for i := int64(0); i <= 5; i++ {
		mustRemove(t, table, i, i)
	}
	if got := mustGetValue(t, table, 0); len(got) != 0 {
		t.Fatalf("GetValue(0) after removing (0,0) = %v, want empty", got)
	}
	for i := int64(1); i <= 5; i++ {
		if got := mustGetValue(t, table, i); !containsAll(got, 2*i) {
			t.Fatalf("GetValue(%d) = %v, want [%d]", i, got, 2*i)
		}
	}
	table.Close()
}

// S2: filling one bucket with even keys keeps global depth at 1; the pair
// that overflows it forces a split and global depth becomes 2.
func testForcedSplit(t *testing.T) {
	table := setupHash(t)
	capacity := pairCapacity()

	for i := 0; i < capacity; i++ {
		k := int64(2 * i)
		if !mustInsert(t, table, k, k) {
			t.Fatalf("Insert(%d,%d) unexpectedly returned false", k, k)
		}
	}
	depth, err := table.GetGlobalDepth()
	if err != nil {
		t.Fatal(err)
	}
	if depth != 1 {
		t.Fatalf("global depth after filling one bucket = %d, want 1", depth)
	}

	overflow := int64(2 * capacity)
	if !mustInsert(t, table, overflow, overflow) {
		t.Fatal("Insert of overflow pair unexpectedly returned false")
	}
	depth, err = table.GetGlobalDepth()
	if err != nil {
		t.Fatal(err)
	}
	if depth != 2 {
		t.Fatalf("global depth after forced split = %d, want 2", depth)
	}
	if err := table.VerifyIntegrity(); err != nil {
		t.Fatal("VerifyIntegrity failed after split:", err)
	}
	table.Close()
}

// S3: removing every even-keyed pair inserted by testForcedSplit's scenario
// (including the overflow) should merge the directory back to depth 1.
func testMerge(t *testing.T) {
	table := setupHash(t)
	capacity := pairCapacity()

	keys := make([]int64, 0, capacity+1)
	for i := 0; i < capacity; i++ {
		k := int64(2 * i)
		mustInsert(t, table, k, k)
		keys = append(keys, k)
	}
	overflow := int64(2 * capacity)
	mustInsert(t, table, overflow, overflow)
	keys = append(keys, overflow)

	for _, k := range keys {
		if !mustRemove(t, table, k, k) {
			t.Fatalf("Remove(%d,%d) unexpectedly returned false", k, k)
		}
	}

	depth, err := table.GetGlobalDepth()
	if err != nil {
		t.Fatal(err)
	}
	if depth != 1 {
		t.Fatalf("global depth after draining every pair = %d, want 1", depth)
	}
	if err := table.VerifyIntegrity(); err != nil {
		t.Fatal("VerifyIntegrity failed after merge:", err)
	}
	table.Close()
}

// S4: directory invariant (2), every slot's bucket id agrees with the
// slot obtained by masking to its own local depth, holds after a mixed
// workload of inserts and removes that forces multiple splits.
func testDirectoryConsistency(t *testing.T) {
	table := setupHash(t)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 5000; i++ {
		k := rng.Int63n(10000)
		mustInsert(t, table, k, k)
	}
	for i := 0; i < 1000; i++ {
		k := rng.Int63n(10000)
		mustRemove(t, table, k, k)
	}

	if err := table.VerifyIntegrity(); err != nil {
		t.Fatal("Directory consistency violated:", err)
	}
	if err := table.DeepVerifyIntegrity(); err != nil {
		t.Fatal("Deep integrity violated:", err)
	}
	table.Close()
}

// S5: while one goroutine splits, concurrent readers must never observe a
// missing key that was present before the split started.
func testConcurrentReaders(t *testing.T) {
	table := setupHash(t)
	capacity := pairCapacity()

	present := make([]int64, capacity)
	for i := 0; i < capacity; i++ {
		k := int64(2 * i)
		mustInsert(t, table, k, k)
		present[i] = k
	}

	var g errgroup.Group
	stop := make(chan struct{})

	for r := 0; r < 8; r++ {
		g.Go(func() error {
			for {
				select {
				case <-stop:
					return nil
				default:
				}
				for _, k := range present {
					vals, err := table.GetValue(txn.New(), k)
					if err != nil {
						return err
					}
					if len(vals) == 0 {
						return errPreExistingKeyMissing(k)
					}
				}
			}
		})
	}

	overflow := int64(2 * capacity)
	if !mustInsert(t, table, overflow, overflow) {
		t.Fatal("Insert of overflow pair unexpectedly returned false")
	}
	close(stop)

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	table.Close()
}

type errPreExistingKeyMissing int64

func (e errPreExistingKeyMissing) Error() string {
	return "reader observed a pre-existing key as missing during a concurrent split"
}

// S6: a large randomized workload maintains every universal invariant.
func testStress(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in -short mode")
	}
	table := setupHash(t)
	rng := rand.New(rand.NewSource(42))

	const n = 200000
	live := make(map[int64]bool)
	for i := 0; i < n; i++ {
		k := rng.Int63n(n / 2)
		if rng.Intn(3) == 0 && live[k] {
			mustRemove(t, table, k, k)
			delete(live, k)
		} else {
			if mustInsert(t, table, k, k) {
				live[k] = true
			}
		}
	}

	if err := table.VerifyIntegrity(); err != nil {
		t.Fatal("VerifyIntegrity failed after stress workload:", err)
	}
	if err := table.DeepVerifyIntegrity(); err != nil {
		t.Fatal("DeepVerifyIntegrity failed after stress workload:", err)
	}
	for k := range live {
		if got := mustGetValue(t, table, k); !containsAll(got, k) {
			t.Fatalf("GetValue(%d) = %v, want [%d]", k, got, k)
		}
	}
	table.Close()
}

func testDuplicateRejection(t *testing.T) {
	table := setupHash(t)
	if !mustInsert(t, table, 1, 1) {
		t.Fatal("first Insert(1,1) unexpectedly returned false")
	}
	if mustInsert(t, table, 1, 1) {
		t.Fatal("second Insert(1,1) should have returned false")
	}
	table.Close()
}

func testRemoveIdempotent(t *testing.T) {
	table := setupHash(t)
	mustInsert(t, table, 1, 1)
	if !mustRemove(t, table, 1, 1) {
		t.Fatal("first Remove(1,1) unexpectedly returned false")
	}
	if mustRemove(t, table, 1, 1) {
		t.Fatal("second Remove(1,1) should have returned false")
	}
	table.Close()
}
