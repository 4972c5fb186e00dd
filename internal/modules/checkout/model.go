// README: Abandoned-checkout document record.
package checkout

import "time"

// Checkout captures an incomplete checkout: the cart snapshot the storefront
// sent plus the single reminded flag this service owns. Records are never
// deleted here; retention is an external policy.
type Checkout struct {
	CheckoutRef  string    `bson:"checkout_ref"`
	CustomerName string    `bson:"customer_name"`
	Phone        string    `bson:"phone"` // canonical form; empty when no contact resolved
	Product      string    `bson:"product"`
	RecoveryURL  string    `bson:"recovery_url"`
	Reminded     bool      `bson:"reminded"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}
