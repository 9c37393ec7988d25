//go:build !overlay
// +build !overlay

package statebridge

// DefaultKind is the backend used when configuration does not name one.
// Builds with the `overlay` tag default to the overlay backend instead.
const DefaultKind = KindManaged
