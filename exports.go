package entitle

import (
	"github.com/xraph/entitle/product"
	"github.com/xraph/entitle/snapshot"
	"github.com/xraph/entitle/transaction"
	"github.com/xraph/entitle/types"
)

// Re-export common types so callers of the engine rarely need the
// sub-packages.

// Money is re-exported from types package.
type Money = types.Money

// CustomerType is re-exported from product package.
type CustomerType = product.CustomerType

// Customer types.
const (
	CustomerUser   = product.CustomerUser
	CustomerTeam   = product.CustomerTeam
	CustomerCustom = product.CustomerCustom
)

// OwnedProduct is re-exported from snapshot package.
type OwnedProduct = snapshot.OwnedProduct

// Transaction is re-exported from transaction package.
type Transaction = transaction.Transaction

// ProductVersion is re-exported from product package.
type ProductVersion = product.Version

// Re-export Money constructors
var (
	USD        = types.USD
	EUR        = types.EUR
	Zero       = types.Zero
	ParseMajor = types.ParseMajor
)
