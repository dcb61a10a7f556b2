package types

import "fmt"

type GapKind string

const (
	GapKindBlockRange GapKind = "blocks"
	GapKindPage       GapKind = "page"
	// GapKindSource means the whole source could not be fetched
	GapKindSource GapKind = "source"
)

// Gap records a block range or indexer page that could not be fetched after every retry.
// Its contributions are missing from the ledger; the run carries on without them.
type Gap struct {
	Source string  `json:"source"`
	Kind   GapKind `json:"kind"`

	FromBlock uint64 `json:"fromBlock,omitempty"`
	ToBlock   uint64 `json:"toBlock,omitempty"`

	Skip  int `json:"skip,omitempty"`
	First int `json:"first,omitempty"`

	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

func (g Gap) String() string {
	switch g.Kind {
	case GapKindSource:
		return fmt.Sprintf("%s (%d attempts): %s", g.Source, g.Attempts, g.Error)
	case GapKindPage:
		return fmt.Sprintf("%s page skip=%d first=%d (%d attempts): %s", g.Source, g.Skip, g.First, g.Attempts, g.Error)
	default:
		return fmt.Sprintf("%s blocks %d-%d (%d attempts): %s", g.Source, g.FromBlock, g.ToBlock, g.Attempts, g.Error)
	}
}
