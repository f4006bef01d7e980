package backfill

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Range is one row of the backfill file: an inclusive block range and the
// wallets whose swaps are kept.
type Range struct {
	From    uint64
	To      uint64
	Wallets []string
	// Line is the 1-based line in the source file, used in error messages.
	Line int
}

// LoadCSV reads backfill ranges from path.
func LoadCSV(path string) ([]Range, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv %s: %w", path, err)
	}
	defer f.Close()

	ranges, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ranges, nil
}

// ReadCSV parses a header row followed by rows of from,to,wallets. The
// wallets column is itself a comma-separated list and is usually quoted.
// Columns are positional; header names are not checked.
func ReadCSV(r io.Reader) ([]Range, error) {
	reader := csv.NewReader(bufio.NewReader(r))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	var ranges []Range
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		line, _ := reader.FieldPos(0)

		if isBlank(record) {
			continue
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("line %d: expected from,to,wallets", line)
		}

		from, err := parseBlock(record[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: from: %w", line, err)
		}
		to, err := parseBlock(record[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: to: %w", line, err)
		}
		if from > to {
			return nil, fmt.Errorf("line %d: from %d is after to %d", line, from, to)
		}

		var wallets []string
		if len(record) > 2 {
			wallets = splitWallets(record[2:])
		}
		ranges = append(ranges, Range{From: from, To: to, Wallets: wallets, Line: line})
	}
	return ranges, nil
}

func parseBlock(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty block number")
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid block number %q", s)
	}
	return n, nil
}

// splitWallets accepts the list quoted in one column or spilled over the
// trailing columns when the file was written without quotes.
func splitWallets(columns []string) []string {
	var wallets []string
	for _, col := range columns {
		for _, w := range strings.Split(col, ",") {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				wallets = append(wallets, w)
			}
		}
	}
	return wallets
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
