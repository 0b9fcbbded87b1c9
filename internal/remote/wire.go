package remote

import "github.com/roach88/cartsync/internal/item"

// WireItem is the flat item shape the service speaks. Selection state is
// client-local and has no wire field.
type WireItem struct {
	ID       string  `json:"id"`
	Quantity int     `json:"quantity,omitempty"`
	Name     string  `json:"name,omitempty"`
	Price    float64 `json:"price,omitempty"`
	Image    string  `json:"image,omitempty"`
	Category string  `json:"category,omitempty"`
}

// ToWire flattens an item for sending.
func ToWire(it item.Item) WireItem {
	return WireItem{
		ID:       it.ID,
		Quantity: it.Quantity,
		Name:     it.Display.Name,
		Price:    it.Display.Price,
		Image:    it.Display.Image,
		Category: it.Display.Category,
	}
}

// FromWire converts a received item, normalizing its id.
func FromWire(w WireItem) item.Item {
	return item.Item{
		ID:       item.NormalizeID(w.ID),
		Quantity: w.Quantity,
		Display: item.Display{
			Name:     w.Name,
			Price:    w.Price,
			Image:    w.Image,
			Category: w.Category,
		},
	}
}

func toWire(items []item.Item) []WireItem {
	out := make([]WireItem, len(items))
	for i, it := range items {
		out[i] = ToWire(it)
	}
	return out
}

func fromWire(ws []WireItem) []item.Item {
	out := make([]item.Item, len(ws))
	for i, w := range ws {
		out[i] = FromWire(w)
	}
	return out
}
