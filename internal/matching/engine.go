package matching

import (
	"bytes"
	"sort"

	"github.com/google/uuid"

	"github.com/acquity/roundmarket/internal/model"
)

// Pair is one produced match between a buy order and a sell order.
type Pair struct {
	BuyOrderID  uuid.UUID
	SellOrderID uuid.UUID
}

// slot is one matchable entry of the seller pool. A duplicated sell order
// occupies two slots with the same order and increasing index.
type slot struct {
	order model.Order
	index int
}

type userPair struct {
	buyer, seller uuid.UUID
}

// Match pairs buy orders with seller slots. Each buy order id appears in at
// most one pair, each seller slot in at most one pair, and no pair joins a
// banned buyer/seller. sells is expected to be the output of
// DuplicateSellOrders. See the package doc for the policy.
func Match(buys, sells []model.Order, banned []model.BannedPair) []Pair {
	rankedBuys := rankBuys(buys)
	slots := rankSlots(sells)
	if len(rankedBuys) == 0 || len(slots) == 0 {
		return nil
	}

	bans := make(map[userPair]struct{}, len(banned))
	for _, bp := range banned {
		bans[userPair{bp.BuyerID, bp.SellerID}] = struct{}{}
	}

	candidates := make([][]int, len(rankedBuys))
	for i, b := range rankedBuys {
		for j, s := range slots {
			if eligible(b, s.order, bans) {
				candidates[i] = append(candidates[i], j)
			}
		}
	}

	// owner[j] is the buy index currently holding slot j, or -1.
	owner := make([]int, len(slots))
	for j := range owner {
		owner[j] = -1
	}
	for i := range rankedBuys {
		visited := make([]bool, len(slots))
		augment(i, candidates, owner, visited)
	}

	assigned := make([]int, len(rankedBuys))
	for i := range assigned {
		assigned[i] = -1
	}
	for j, i := range owner {
		if i >= 0 {
			assigned[i] = j
		}
	}

	var pairs []Pair
	for i, j := range assigned {
		if j < 0 {
			continue
		}
		pairs = append(pairs, Pair{
			BuyOrderID:  rankedBuys[i].ID,
			SellOrderID: slots[j].order.ID,
		})
	}
	return pairs
}

// augment searches for an augmenting path starting at buy i.
func augment(i int, candidates [][]int, owner []int, visited []bool) bool {
	for _, j := range candidates[i] {
		if visited[j] {
			continue
		}
		visited[j] = true
		if owner[j] < 0 || augment(owner[j], candidates, owner, visited) {
			owner[j] = i
			return true
		}
	}
	return false
}

func eligible(buy, sell model.Order, bans map[userPair]struct{}) bool {
	if buy.SecurityID != sell.SecurityID {
		return false
	}
	if buy.UserID == sell.UserID {
		return false
	}
	if buy.Price.LessThan(sell.Price) {
		return false
	}
	if _, ok := bans[userPair{buy.UserID, sell.UserID}]; ok {
		return false
	}
	if _, ok := bans[userPair{sell.UserID, buy.UserID}]; ok {
		return false
	}
	return true
}

// rankBuys copies, dedupes by id and sorts buys by price desc, created_at asc, id asc.
func rankBuys(buys []model.Order) []model.Order {
	seen := make(map[uuid.UUID]struct{}, len(buys))
	out := make([]model.Order, 0, len(buys))
	for _, b := range buys {
		if _, dup := seen[b.ID]; dup {
			continue
		}
		seen[b.ID] = struct{}{}
		out = append(out, b)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if c := a.Price.Cmp(b.Price); c != 0 {
			return c > 0
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})
	return out
}

// rankSlots sorts seller slots by price asc, created_at asc, id asc, slot asc.
func rankSlots(sells []model.Order) []slot {
	occurrences := make(map[uuid.UUID]int, len(sells))
	out := make([]slot, 0, len(sells))
	for _, s := range sells {
		out = append(out, slot{order: s, index: occurrences[s.ID]})
		occurrences[s.ID]++
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if c := a.order.Price.Cmp(b.order.Price); c != 0 {
			return c < 0
		}
		if !a.order.CreatedAt.Equal(b.order.CreatedAt) {
			return a.order.CreatedAt.Before(b.order.CreatedAt)
		}
		if c := bytes.Compare(a.order.ID[:], b.order.ID[:]); c != 0 {
			return c < 0
		}
		return a.index < b.index
	})
	return out
}
