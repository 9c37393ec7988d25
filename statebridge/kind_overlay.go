//go:build overlay
// +build overlay

package statebridge

// DefaultKind is the backend used when configuration does not name one.
const DefaultKind = KindOverlay
