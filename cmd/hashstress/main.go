// Command hashstress drives a hash index with a randomized or
// file-supplied workload across multiple goroutines, then optionally
// verifies the resulting structure and dumps its contents.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"xhash/pkg/hash"
	"xhash/pkg/hash/txn"
	"xhash/pkg/pager"
	"xhash/pkg/pair"

	"golang.org/x/sync/errgroup"
)

var maxDelayMillis int64 = 10

func jitter() time.Duration {
	return time.Duration(rand.Int63n(maxDelayMillis)+1) * time.Millisecond
}

// op is one line of a workload file: "insert <k> <v>" or "remove <k> <v>".
type op struct {
	verb string
	k, v int64
}

func parseWorkload(path string) ([]op, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var ops []op
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 3 {
			continue
		}
		k, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing workload line %q: %w", scanner.Text(), err)
		}
		v, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing workload line %q: %w", scanner.Text(), err)
		}
		ops = append(ops, op{verb: fields[0], k: k, v: v})
	}
	return ops, scanner.Err()
}

func randomWorkload(n int) []op {
	ops := make([]op, n)
	for i := range ops {
		k := rand.Int63n(int64(n))
		if i > 0 && rand.Intn(3) == 0 {
			ops[i] = op{verb: "remove", k: k, v: k}
		} else {
			ops[i] = op{verb: "insert", k: k, v: k}
		}
	}
	return ops
}

func runWorkload(table *hash.HashTable[int64, int64], ops []op, idx, n int) error {
	for i := idx; i < len(ops); i += n {
		time.Sleep(jitter())
		o := ops[i]
		t := txn.New()
		switch o.verb {
		case "insert":
			if _, err := table.Insert(t, o.k, o.v); err != nil {
				return fmt.Errorf("insert(%d,%d): %w", o.k, o.v, err)
			}
		case "remove":
			if _, err := table.Remove(t, o.k, o.v); err != nil {
				return fmt.Errorf("remove(%d,%d): %w", o.k, o.v, err)
			}
		default:
			return fmt.Errorf("unknown workload op %q", o.verb)
		}
	}
	return nil
}

func setupCloseHandler(table *hash.HashTable[int64, int64]) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		fmt.Println("closehandler invoked")
		table.Close()
		os.Exit(0)
	}()
}

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
		Hash:       hash.XXHash64[int64](pair.Int64Codec{}),
		ValueEqual: func(a, b int64) bool { return a == b },
	}
}

func main() {
	var dbFlag = flag.String("db", "data/hashstress.db", "path to the index file")
	var workloadFlag = flag.String("workload", "", "workload file (insert/remove <k> <v> per line); random if omitted")
	var randomOpsFlag = flag.Int("random-ops", 100000, "number of random ops to run when -workload is omitted")
	var nFlag = flag.Int("n", 1, "number of goroutines driving the workload")
	var verifyFlag = flag.Bool("verify", false, "verify index structure after the workload completes")
	var dumpFlag = flag.Bool("dump", false, "print every live pair after the workload completes")
	flag.Parse()

	p, err := pager.New(*dbFlag)
	if err != nil {
		panic(err)
	}
	table, err := hash.Open(p, int64Config())
	if err != nil {
		panic(err)
	}
	defer table.Close()
	setupCloseHandler(table)

	var ops []op
	if *workloadFlag != "" {
		ops, err = parseWorkload(*workloadFlag)
		if err != nil {
			fmt.Println(err)
			return
		}
	} else {
		ops = randomWorkload(*randomOpsFlag)
	}

	var g errgroup.Group
	for i := 0; i < *nFlag; i++ {
		i := i
		g.Go(func() error {
			return runWorkload(table, ops, i, *nFlag)
		})
	}
	if err := g.Wait(); err != nil {
		fmt.Println("workload error:", err)
		return
	}

	if *verifyFlag {
		if err := table.VerifyIntegrity(); err != nil {
			fmt.Println("VerifyIntegrity failed:", err)
		}
		if err := table.DeepVerifyIntegrity(); err != nil {
			fmt.Println("DeepVerifyIntegrity failed:", err)
		}
	}

	if *dumpFlag {
		cursor, err := table.NewCursor()
		if err != nil {
			fmt.Println("failed to create cursor:", err)
			return
		}
		for {
			pr, ok, err := cursor.Next()
			if err != nil {
				fmt.Println("cursor error:", err)
				return
			}
			if !ok {
				break
			}
			fmt.Printf("%d -> %d\n", pr.Key, pr.Value)
		}
	}
}
