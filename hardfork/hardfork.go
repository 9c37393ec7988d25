// Package hardfork names protocol rule sets and answers "which rules apply
// to block N" without touching chain state.
package hardfork

import (
	"fmt"
	"strings"
)

// Name identifies a hardfork. The string values follow the names used by
// Ethereum development tooling (chainstart, tangerineWhistle, ...).
type Name string

const (
	Chainstart       Name = "chainstart"
	Homestead        Name = "homestead"
	DAO              Name = "dao"
	TangerineWhistle Name = "tangerineWhistle"
	SpuriousDragon   Name = "spuriousDragon"
	Byzantium        Name = "byzantium"
	Constantinople   Name = "constantinople"
	Petersburg       Name = "petersburg"
	Istanbul         Name = "istanbul"
	MuirGlacier      Name = "muirGlacier"
	Berlin           Name = "berlin"
	London           Name = "london"
	ArrowGlacier     Name = "arrowGlacier"
	GrayGlacier      Name = "grayGlacier"
	Merge            Name = "merge"
	Shanghai         Name = "shanghai"
	Cancun           Name = "cancun"
	Prague           Name = "prague"
)

// ordered lists every known hardfork in activation order.
var ordered = []Name{
	Chainstart,
	Homestead,
	DAO,
	TangerineWhistle,
	SpuriousDragon,
	Byzantium,
	Constantinople,
	Petersburg,
	Istanbul,
	MuirGlacier,
	Berlin,
	London,
	ArrowGlacier,
	GrayGlacier,
	Merge,
	Shanghai,
	Cancun,
	Prague,
}

var index = func() map[Name]int {
	m := make(map[Name]int, len(ordered))
	for i, n := range ordered {
		m[n] = i
	}
	return m
}()

// All returns the known hardforks in activation order.
func All() []Name {
	return append([]Name(nil), ordered...)
}

// Valid reports whether n is a known hardfork.
func (n Name) Valid() bool {
	_, ok := index[n]
	return ok
}

func (n Name) String() string { return string(n) }

// Parse resolves a hardfork name case-insensitively. "paris" is accepted as
// an alias of the merge.
func Parse(s string) (Name, error) {
	if strings.EqualFold(s, "paris") {
		return Merge, nil
	}
	for _, n := range ordered {
		if strings.EqualFold(string(n), s) {
			return n, nil
		}
	}
	return "", fmt.Errorf("unknown hardfork %q", s)
}

// Compare returns -1, 0 or +1 depending on whether a activates before, at the
// same time as, or after b. Unknown names are an error.
func Compare(a, b Name) (int, error) {
	ia, ok := index[a]
	if !ok {
		return 0, fmt.Errorf("unknown hardfork %q", a)
	}
	ib, ok := index[b]
	if !ok {
		return 0, fmt.Errorf("unknown hardfork %q", b)
	}
	switch {
	case ia < ib:
		return -1, nil
	case ia > ib:
		return 1, nil
	}
	return 0, nil
}

// Gte reports whether a is at or after b. It is false if either name is
// unknown.
func Gte(a, b Name) bool {
	c, err := Compare(a, b)
	return err == nil && c >= 0
}

// IsPostMerge reports whether blocks under n carry a mix value instead of a
// difficulty.
func IsPostMerge(n Name) bool { return Gte(n, Merge) }

// IsEIP1559 reports whether blocks under n have a base fee.
func IsEIP1559(n Name) bool { return Gte(n, London) }
