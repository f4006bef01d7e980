package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Follower scans the blocks mined since its previous poll. The first poll
// only records the chain head.
type Follower struct {
	chain   Chain
	scanner *Scanner
	allow   Allowlist
	logger  zerolog.Logger

	mu   sync.Mutex
	next uint64
}

func NewFollower(chain Chain, scanner *Scanner, allow Allowlist, logger zerolog.Logger) *Follower {
	return &Follower{
		chain:   chain,
		scanner: scanner,
		allow:   allow,
		logger:  logger.With().Str("component", "follower").Logger(),
	}
}

func (f *Follower) Poll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	latest, err := f.chain.GetLatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to get chain head: %w", err)
	}

	if f.next == 0 {
		f.next = latest + 1
		f.logger.Info().Uint64("head", latest).Msg("Following new blocks")
		return nil
	}
	if latest < f.next {
		return nil
	}

	if _, err := f.scanner.ScanRange(ctx, f.next, latest, f.allow); err != nil {
		return err
	}
	f.next = latest + 1
	return nil
}
