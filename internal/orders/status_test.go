package orders

import (
	"testing"

	"github.com/velosdrop/velosdrop-sub001/internal/models"
)

func TestCanTransition(t *testing.T) {
	legal := [][2]models.OrderStatus{
		{models.StatusPending, models.StatusAccepted},
		{models.StatusPending, models.StatusRejected},
		{models.StatusPending, models.StatusExpired},
		{models.StatusAccepted, models.StatusPickedUp},
		{models.StatusAccepted, models.StatusCancelled},
		{models.StatusPickedUp, models.StatusInTransit},
		{models.StatusInTransit, models.StatusCompleted},
		{models.StatusInTransit, models.StatusCancelled},
	}
	for _, e := range legal {
		if !CanTransition(e[0], e[1]) {
			t.Errorf("%s -> %s should be legal", e[0], e[1])
		}
	}

	illegal := [][2]models.OrderStatus{
		{models.StatusPending, models.StatusPickedUp},
		{models.StatusPending, models.StatusCompleted},
		{models.StatusAccepted, models.StatusInTransit},
		{models.StatusPickedUp, models.StatusCancelled},
		{models.StatusCompleted, models.StatusInTransit},
		{models.StatusExpired, models.StatusAccepted},
		{models.StatusCancelled, models.StatusPending},
		{models.StatusRejected, models.StatusAccepted},
	}
	for _, e := range illegal {
		if CanTransition(e[0], e[1]) {
			t.Errorf("%s -> %s should be illegal", e[0], e[1])
		}
	}
}

func TestTerminalStatesHaveNoEdges(t *testing.T) {
	all := []models.OrderStatus{
		models.StatusPending, models.StatusAccepted, models.StatusRejected,
		models.StatusExpired, models.StatusPickedUp, models.StatusInTransit,
		models.StatusCompleted, models.StatusCancelled,
	}
	for _, from := range all {
		if !from.Terminal() {
			continue
		}
		for _, to := range all {
			if CanTransition(from, to) {
				t.Errorf("terminal %s has edge to %s", from, to)
			}
		}
	}
}
