package schema

import "sort"

// Event type names, lower-snake-cased to match what the subscription parser
// derives from schema type names.
const (
	OrderCreated     = "order_created"
	OrderUpdated     = "order_updated"
	OrderFullyPaid   = "order_fully_paid"
	CheckoutCreated  = "checkout_created"
	CheckoutUpdated  = "checkout_updated"
	ProductCreated   = "product_created"
	ProductUpdated   = "product_updated"
	CustomerCreated  = "customer_created"
	InvoiceRequested = "invoice_requested"

	CheckoutCalculateTaxes         = "checkout_calculate_taxes"
	OrderCalculateTaxes            = "order_calculate_taxes"
	ShippingListMethodsForCheckout = "shipping_list_methods_for_checkout"
	PaymentAuthorize               = "payment_authorize"
)

// Permission names granted to integrations.
const (
	PermManageOrders    = "MANAGE_ORDERS"
	PermManageCheckouts = "MANAGE_CHECKOUTS"
	PermManageProducts  = "MANAGE_PRODUCTS"
	PermManageUsers     = "MANAGE_USERS"
	PermHandleTaxes     = "HANDLE_TAXES"
	PermManageShipping  = "MANAGE_SHIPPING"
	PermHandlePayments  = "HANDLE_PAYMENTS"
)

// EventDef classifies one event type: its delivery family and the permission
// an integration must hold to receive it.
type EventDef struct {
	Name       string
	Sync       bool
	Permission string
}

// Registry maps event type names to their definitions. It is built once at
// startup from the declared event table, never from compiled-in switches, so
// adding an event type is a data change.
type Registry struct {
	defs map[string]EventDef
}

func NewRegistry() *Registry {
	defs := []EventDef{
		{Name: OrderCreated, Permission: PermManageOrders},
		{Name: OrderUpdated, Permission: PermManageOrders},
		{Name: OrderFullyPaid, Permission: PermManageOrders},
		{Name: CheckoutCreated, Permission: PermManageCheckouts},
		{Name: CheckoutUpdated, Permission: PermManageCheckouts},
		{Name: ProductCreated, Permission: PermManageProducts},
		{Name: ProductUpdated, Permission: PermManageProducts},
		{Name: CustomerCreated, Permission: PermManageUsers},
		{Name: InvoiceRequested, Permission: PermManageOrders},

		{Name: CheckoutCalculateTaxes, Sync: true, Permission: PermHandleTaxes},
		{Name: OrderCalculateTaxes, Sync: true, Permission: PermHandleTaxes},
		{Name: ShippingListMethodsForCheckout, Sync: true, Permission: PermManageShipping},
		{Name: PaymentAuthorize, Sync: true, Permission: PermHandlePayments},
	}

	r := &Registry{defs: make(map[string]EventDef, len(defs))}
	for _, d := range defs {
		r.defs[d.Name] = d
	}
	return r
}

func (r *Registry) Get(name string) (EventDef, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// Known reports whether name is a declared event type.
func (r *Registry) Known(name string) bool {
	_, ok := r.defs[name]
	return ok
}

// All returns every declared event definition, sorted by name.
func (r *Registry) All() []EventDef {
	out := make([]EventDef, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
