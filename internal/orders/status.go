package orders

import "github.com/velosdrop/velosdrop-sub001/internal/models"

// allowedTransitions encodes the order state graph. rejected, expired,
// completed and cancelled have no outgoing edges.
var allowedTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.StatusPending:   {models.StatusAccepted, models.StatusRejected, models.StatusExpired},
	models.StatusAccepted:  {models.StatusPickedUp, models.StatusCancelled},
	models.StatusPickedUp:  {models.StatusInTransit},
	models.StatusInTransit: {models.StatusCompleted, models.StatusCancelled},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to models.OrderStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status has no outgoing edges.
func IsTerminal(s models.OrderStatus) bool {
	switch s {
	case models.StatusRejected, models.StatusExpired, models.StatusCompleted, models.StatusCancelled:
		return true
	}
	return false
}
