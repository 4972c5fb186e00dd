// README: Common value types shared across modules.
package types

// ID is an opaque reference assigned by the source platform.
type ID string

// Money carries the storefront's display amount untouched. Amounts are only
// ever rendered into message templates, never used for arithmetic.
type Money struct {
	Amount   string
	Currency string
}
