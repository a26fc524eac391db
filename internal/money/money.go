package money

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"creditledger/internal/models"
)

const CentsPerDollar = 100

// FormatQuantity renders a raw quantity in the ledger's unit. Display only;
// ledger arithmetic never goes through this.
func FormatQuantity(unit models.Unit, quantity int64) string {
	switch unit {
	case models.UnitUSDCents:
		dollars := decimal.NewFromInt(quantity).Div(decimal.NewFromInt(CentsPerDollar))
		return "$" + dollars.StringFixed(2)
	case models.UnitJPY:
		return "¥" + strconv.FormatInt(quantity, 10)
	case models.UnitSeats:
		return fmt.Sprintf("%d seats", quantity)
	}
	return strconv.FormatInt(quantity, 10)
}
