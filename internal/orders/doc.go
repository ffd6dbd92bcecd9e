// Package orders is the intake gate for buy and sell orders.
//
// A new order joins the active round if there is one, otherwise the
// pending pool. Each user may hold a limited number of orders per side in
// the round (or pool) it targets. A sell order that lands in the pool may
// open a round; the cutoff check, the round creation and the assignment of
// pending orders all happen in the submitting transaction, so two
// concurrent sell orders cannot both open a round.
package orders
