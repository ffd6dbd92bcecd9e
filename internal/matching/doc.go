// Package matching computes the buyer/seller pairing for a concluded round.
//
// Both steps are pure functions over a snapshot of the round:
//   - DuplicateSellOrders gives a seller with exactly one sell order a second
//     slot so the block can be split across two buyers.
//   - Match pairs buy orders with seller slots.
//
// Pairing policy:
//   - Eligibility: same security, buy price >= sell price, buyer != seller,
//     and (buyer, seller) not banned in either direction.
//   - Objective: maximum-cardinality bipartite matching, found with
//     augmenting paths (Kuhn's algorithm).
//   - Tie-break: buys ranked by price desc, created_at asc, id asc; seller
//     slots ranked by price asc, created_at asc, id asc, slot asc. Augmenting
//     searches visit candidates in rank order, so the same snapshot always
//     yields the same pairs regardless of input order.
package matching
