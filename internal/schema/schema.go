package schema

import (
	"sync"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

// SDL is the platform event schema subscription documents are written
// against. Every concrete type implementing Event is an async event; sync
// events (taxes, shipping filtering, payment authorization) are exposed both
// as Event implementors and as dedicated top-level fields.
const SDL = `
schema {
  query: Query
  subscription: Subscription
}

type Query {
  version: String
}

enum DeferCondition {
  ADDRESS_MISSING
  BILLING_ADDRESS_MISSING
  LINES_EMPTY
}

interface Event {
  issuedAt: String
  version: String
}

type Order {
  id: ID!
  number: String
  channel: String
  total: Float
}

type Checkout {
  id: ID!
  email: String
  channel: String
}

type Product {
  id: ID!
  name: String
}

type Customer {
  id: ID!
  email: String
}

type Invoice {
  id: ID!
  number: String
}

type Payment {
  id: ID!
  gateway: String
  amount: Float
}

type ShippingMethod {
  id: ID!
  name: String
  price: Float
}

type OrderCreated implements Event {
  issuedAt: String
  version: String
  order: Order
}

type OrderUpdated implements Event {
  issuedAt: String
  version: String
  order: Order
}

type OrderFullyPaid implements Event {
  issuedAt: String
  version: String
  order: Order
}

type CheckoutCreated implements Event {
  issuedAt: String
  version: String
  checkout: Checkout
}

type CheckoutUpdated implements Event {
  issuedAt: String
  version: String
  checkout: Checkout
}

type ProductCreated implements Event {
  issuedAt: String
  version: String
  product: Product
}

type ProductUpdated implements Event {
  issuedAt: String
  version: String
  product: Product
}

type CustomerCreated implements Event {
  issuedAt: String
  version: String
  customer: Customer
}

type InvoiceRequested implements Event {
  issuedAt: String
  version: String
  invoice: Invoice
}

type CheckoutCalculateTaxes implements Event {
  issuedAt: String
  version: String
  checkout: Checkout
}

type OrderCalculateTaxes implements Event {
  issuedAt: String
  version: String
  order: Order
}

type ShippingListMethodsForCheckout implements Event {
  issuedAt: String
  version: String
  checkout: Checkout
  shippingMethods: [ShippingMethod!]
}

type PaymentAuthorize implements Event {
  issuedAt: String
  version: String
  payment: Payment
}

type Subscription {
  event: Event
  orderCreated(channels: [String!], deferIf: [DeferCondition!]): OrderCreated
  orderUpdated(channels: [String!], deferIf: [DeferCondition!]): OrderUpdated
  orderFullyPaid(channels: [String!], deferIf: [DeferCondition!]): OrderFullyPaid
  checkoutCreated(channels: [String!], deferIf: [DeferCondition!]): CheckoutCreated
  checkoutUpdated(channels: [String!], deferIf: [DeferCondition!]): CheckoutUpdated
  productCreated(channels: [String!], deferIf: [DeferCondition!]): ProductCreated
  productUpdated(channels: [String!], deferIf: [DeferCondition!]): ProductUpdated
  customerCreated: CustomerCreated
  invoiceRequested: InvoiceRequested
  checkoutCalculateTaxes(deferIf: [DeferCondition!]): CheckoutCalculateTaxes
  orderCalculateTaxes(deferIf: [DeferCondition!]): OrderCalculateTaxes
  shippingListMethodsForCheckout(deferIf: [DeferCondition!]): ShippingListMethodsForCheckout
  paymentAuthorize(deferIf: [DeferCondition!]): PaymentAuthorize
}
`

var (
	loadOnce sync.Once
	loaded   *ast.Schema
)

// Load parses the platform event schema. The schema is static, so the parse
// happens once per process.
func Load() *ast.Schema {
	loadOnce.Do(func() {
		loaded = gqlparser.MustLoadSchema(&ast.Source{
			Name:  "hookline.graphql",
			Input: SDL,
		})
	})
	return loaded
}
