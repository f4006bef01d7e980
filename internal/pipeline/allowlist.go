package pipeline

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Allowlist selects the transaction senders whose swaps are tracked.
type Allowlist struct {
	wallets map[string]struct{}
	any     bool
}

// NewAllowlist matches the given addresses case-insensitively. An empty list
// matches nothing.
func NewAllowlist(wallets []string) Allowlist {
	set := make(map[string]struct{}, len(wallets))
	for _, w := range wallets {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return Allowlist{wallets: set}
}

// AllowAll matches every sender.
func AllowAll() Allowlist {
	return Allowlist{any: true}
}

func (a Allowlist) Allows(sender common.Address) bool {
	if a.any {
		return true
	}
	_, ok := a.wallets[strings.ToLower(sender.Hex())]
	return ok
}

func (a Allowlist) Len() int {
	return len(a.wallets)
}
