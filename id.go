package entitle

import "github.com/xraph/entitle/id"

// ID is the identifier type of every ledger row.
type ID = id.ID

// Prefix identifies the row kind encoded in a TypeID.
type Prefix = id.Prefix

// SubscriptionID identifies a subscription.
type SubscriptionID = id.SubscriptionID
