package matching

import (
	"github.com/google/uuid"

	"github.com/acquity/roundmarket/internal/model"
)

// DuplicateSellOrders returns the seller pool used for matching. A seller who
// contributed exactly one order gets that order twice, the copy placed right
// after the original; sellers with two or more orders are left as-is.
// The input slice is not modified.
func DuplicateSellOrders(sells []model.Order) []model.Order {
	perSeller := make(map[uuid.UUID]int, len(sells))
	for _, o := range sells {
		perSeller[o.UserID]++
	}

	out := make([]model.Order, 0, len(sells)+len(perSeller))
	for _, o := range sells {
		out = append(out, o)
		if perSeller[o.UserID] == 1 {
			out = append(out, o)
		}
	}
	return out
}
