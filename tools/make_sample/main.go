// Command make_sample generates synthetic people files for exercising the
// linker: a left file, and a right file where a fraction of the records are
// fuzzed duplicates of left records.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/TFMV/entlink/pkg/rel"
	"github.com/TFMV/entlink/pkg/writers"
)

const (
	firstNames = "John,Jane,Bob,Mary,Alice,David,Emma,Michael,Olivia,James,Sophia,William,Ava,Benjamin,Mia,Daniel,Charlotte,Matthew,Amelia,Henry"
	lastNames  = "Smith,Johnson,Williams,Jones,Brown,Davis,Miller,Wilson,Moore,Taylor,Anderson,Thomas,Jackson,White,Harris,Martin,Thompson,Garcia,Martinez,Robinson"
	domains    = "gmail.com,yahoo.com,hotmail.com,outlook.com,icloud.com,example.com,company.com,business.org,school.edu,local.net"
)

func main() {
	rows := flag.Int("rows", 10000, "records per file")
	dupRate := flag.Float64("dup-rate", 0.3, "fraction of right records duplicating a left record")
	nullRate := flag.Float64("null-rate", 0.05, "fraction of NULL email values")
	outDir := flag.String("out", "sample_data", "output directory")
	seed := flag.Int64("seed", 42, "random seed")
	flag.Parse()

	if err := generate(*rows, *dupRate, *nullRate, *outDir, *seed); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func generate(rows int, dupRate, nullRate float64, outDir string, seed int64) error {
	rng := rand.New(rand.NewSource(seed))
	firsts := strings.Split(firstNames, ",")
	lasts := strings.Split(lastNames, ",")
	doms := strings.Split(domains, ",")

	person := func(id int64) []any {
		first := firsts[rng.Intn(len(firsts))]
		last := lasts[rng.Intn(len(lasts))]
		var email any
		if rng.Float64() >= nullRate {
			email = fmt.Sprintf("%s.%s@%s", strings.ToLower(first), strings.ToLower(last), doms[rng.Intn(len(doms))])
		}
		return []any{id, first, last, email}
	}

	leftRows := make([][]any, rows)
	for i := range leftRows {
		leftRows[i] = person(int64(i))
	}
	rightRows := make([][]any, rows)
	for i := range rightRows {
		if rng.Float64() < dupRate {
			// Duplicate a left record under a new id, occasionally losing the
			// email so key-based matching has something to miss.
			src := leftRows[rng.Intn(rows)]
			dup := append([]any(nil), src...)
			dup[0] = int64(1_000_000 + i)
			if rng.Float64() < nullRate {
				dup[3] = nil
			}
			rightRows[i] = dup
			continue
		}
		rightRows[i] = person(int64(1_000_000 + i))
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "record_id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "first", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "last", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "email", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)

	ctx := context.Background()
	for name, data := range map[string][][]any{"left.parquet": leftRows, "right.parquet": rightRows} {
		t, err := rel.NewTable(schema, data)
		if err != nil {
			return err
		}
		path := filepath.Join(outDir, name)
		if err := writers.WriteTable(ctx, path, t); err != nil {
			return err
		}
		fmt.Printf("wrote %d rows to %s\n", len(data), path)
	}
	return nil
}
