package backfill

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/pipeline"
)

const walletA = "0x1111111111111111111111111111111111111111"

func TestReadCSV(t *testing.T) {
	input := `from,to,wallets
100,200,"0xAAAA000000000000000000000000000000000000, 0xbbbb000000000000000000000000000000000000"
300, 300 ,0x1111111111111111111111111111111111111111

400,500,
`
	ranges, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, ranges, 3)

	assert.Equal(t, uint64(100), ranges[0].From)
	assert.Equal(t, uint64(200), ranges[0].To)
	assert.Equal(t, []string{
		"0xaaaa000000000000000000000000000000000000",
		"0xbbbb000000000000000000000000000000000000",
	}, ranges[0].Wallets)
	assert.Equal(t, 2, ranges[0].Line)

	assert.Equal(t, uint64(300), ranges[1].From)
	assert.Equal(t, uint64(300), ranges[1].To)
	assert.Equal(t, []string{walletA}, ranges[1].Wallets)

	assert.Equal(t, uint64(400), ranges[2].From)
	assert.Empty(t, ranges[2].Wallets)
}

func TestReadCSVUnquotedWallets(t *testing.T) {
	input := "from,to,wallets\n1,2,0xAA,0xBB\n"
	ranges, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	assert.Equal(t, []string{"0xaa", "0xbb"}, ranges[0].Wallets)
}

func TestReadCSVErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"from after to", "from,to,wallets\n10,5,0xaa\n", "line 2: from 10 is after to 5"},
		{"bad number", "from,to,wallets\n1,2,0xaa\nabc,5,0xaa\n", "line 3: from"},
		{"missing to", "from,to,wallets\n7\n", "line 2: expected from,to,wallets"},
		{"empty to", "from,to,wallets\n7,,0xaa\n", "line 2: to: empty block number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadCSVEmpty(t *testing.T) {
	ranges, err := ReadCSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, ranges)

	ranges, err = ReadCSV(strings.NewReader("from,to,wallets\n"))
	require.NoError(t, err)
	assert.Empty(t, ranges)
}

func TestLoadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.csv")
	require.NoError(t, os.WriteFile(path, []byte("from,to,wallets\n1,2,"+walletA+"\n"), 0o600))

	ranges, err := LoadCSV(path)
	require.NoError(t, err)
	require.Len(t, ranges, 1)

	_, err = LoadCSV(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
}

type scanCall struct {
	from, to uint64
	allow    pipeline.Allowlist
}

type fakeScanner struct {
	calls  []scanCall
	failAt map[uint64]error
	cancel context.CancelFunc
}

func (f *fakeScanner) ScanRange(ctx context.Context, from, to uint64, allow pipeline.Allowlist) (pipeline.ScanStats, error) {
	f.calls = append(f.calls, scanCall{from: from, to: to, allow: allow})
	if f.cancel != nil && len(f.calls) == 1 {
		f.cancel()
		return pipeline.ScanStats{}, ctx.Err()
	}
	if err, ok := f.failAt[from]; ok {
		return pipeline.ScanStats{Windows: 1}, err
	}
	return pipeline.ScanStats{Windows: 1, Logs: 2, Batches: 1, Swaps: 1}, nil
}

func TestRunnerRunsRowsInOrder(t *testing.T) {
	scanner := &fakeScanner{}
	ranges := []Range{
		{From: 10, To: 20, Wallets: []string{walletA}},
		{From: 1, To: 5},
	}

	require.NoError(t, NewRunner(scanner, zerolog.Nop()).Run(context.Background(), ranges))

	require.Len(t, scanner.calls, 2)
	assert.Equal(t, uint64(10), scanner.calls[0].from)
	assert.Equal(t, uint64(20), scanner.calls[0].to)
	assert.True(t, scanner.calls[0].allow.Allows(common.HexToAddress(walletA)))
	assert.Equal(t, uint64(1), scanner.calls[1].from)

	// a row without wallets matches nobody
	assert.Equal(t, 0, scanner.calls[1].allow.Len())
	assert.False(t, scanner.calls[1].allow.Allows(common.HexToAddress(walletA)))
}

func TestRunnerContinuesAfterRowFailure(t *testing.T) {
	boom := errors.New("rpc unavailable")
	scanner := &fakeScanner{failAt: map[uint64]error{1: boom}}
	ranges := []Range{{From: 1, To: 2}, {From: 3, To: 4}, {From: 5, To: 6}}

	err := NewRunner(scanner, zerolog.Nop()).Run(context.Background(), ranges)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "range 1-2")
	assert.Len(t, scanner.calls, 3)
}

func TestRunnerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	scanner := &fakeScanner{cancel: cancel}
	ranges := []Range{{From: 1, To: 2}, {From: 3, To: 4}}

	err := NewRunner(scanner, zerolog.Nop()).Run(ctx, ranges)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, scanner.calls, 1)
}

func TestRunnerRunFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.csv")
	require.NoError(t, os.WriteFile(path, []byte("from,to,wallets\n7,9,"+walletA+"\n"), 0o600))
	scanner := &fakeScanner{}

	require.NoError(t, NewRunner(scanner, zerolog.Nop()).RunFile(context.Background(), path))
	require.Len(t, scanner.calls, 1)
	assert.Equal(t, uint64(7), scanner.calls[0].from)
}
