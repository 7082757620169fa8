package policy

import (
	"github.com/mmdatafocus/retail_backend/utils"
)

// Capability is a named grant checked with the role-or-flag rule.
type Capability string

const (
	CapOverridePrice    Capability = "override_price"
	CapCancelSales      Capability = "cancel_sales"
	CapEditSales        Capability = "edit_sales"
	CapChangeSaleType   Capability = "change_sale_type"
	CapSellWithoutStock Capability = "sell_without_stock"
	CapCancelPayments   Capability = "cancel_payments"
	CapEditPurchases    Capability = "edit_purchases"
	CapCancelPurchases  Capability = "cancel_purchases"
)

var deniedMessages = map[Capability]string{
	CapOverridePrice:    "you are not allowed to change catalog prices",
	CapCancelSales:      "you are not allowed to cancel sales",
	CapEditSales:        "you are not allowed to edit sales",
	CapChangeSaleType:   "you are not allowed to change the sale type",
	CapSellWithoutStock: "you are not allowed to sell without stock",
	CapCancelPayments:   "you are not allowed to cancel payments",
	CapEditPurchases:    "you are not allowed to edit purchases",
	CapCancelPurchases:  "you are not allowed to cancel purchases",
}

// Can reports whether the caller is an admin or holds the explicit grant.
func (i Identity) Can(c Capability) bool {
	return i.IsAdmin() || i.Grants[c]
}

// Require returns a PermissionDenied error when the caller cannot use c.
func Require(identity Identity, c Capability) error {
	if identity.Can(c) {
		return nil
	}
	msg, ok := deniedMessages[c]
	if !ok {
		msg = "permission denied"
	}
	return utils.NewPermissionDenied(string(c), "%s", msg).With("capability", string(c))
}

// CanBypassStock is the stock rule: the caller's grant, or a tenant that
// allows negative stock.
func CanBypassStock(identity Identity, tenantAllowsNegative bool) bool {
	return tenantAllowsNegative || identity.Can(CapSellWithoutStock)
}
