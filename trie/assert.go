package trie

import "fmt"

// Assert panics on violated internal invariants. These are programmer
// errors, never data-dependent conditions.
func Assert(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
