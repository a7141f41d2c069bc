package platform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// platformOrder is the normalized shape every mapper produces.
type platformOrder struct {
	ExternalID string
	Name       string
	Phone      string
	Address    string
	Notes      string
	Items      []rawItem
}

type rawItem struct {
	Name     string
	Quantity int
	Price    float64
	Notes    string
}

type mapperFunc func(payload []byte) (*platformOrder, error)

func defaultMappers() map[string]mapperFunc {
	return map[string]mapperFunc{
		"lieferando": mapLieferando,
		"wolt":       mapWolt,
	}
}

// lieferandoPayload mirrors the marketplace's webhook: flat order with
// string-encoded decimal prices.
type lieferandoPayload struct {
	OrderID  string `json:"order_id"`
	Customer struct {
		Name    string `json:"name"`
		Phone   string `json:"phone"`
		Address string `json:"address"`
	} `json:"customer"`
	Remarks string `json:"remarks"`
	Items   []struct {
		Name      string `json:"name"`
		Count     int    `json:"count"`
		UnitPrice string `json:"unit_price"`
		Note      string `json:"note"`
	} `json:"items"`
}

func mapLieferando(payload []byte) (*platformOrder, error) {
	var p lieferandoPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}

	po := &platformOrder{
		ExternalID: strings.TrimSpace(p.OrderID),
		Name:       p.Customer.Name,
		Phone:      p.Customer.Phone,
		Address:    p.Customer.Address,
		Notes:      p.Remarks,
	}
	for _, item := range p.Items {
		price := 0.0
		if item.UnitPrice != "" {
			parsed, err := strconv.ParseFloat(item.UnitPrice, 64)
			if err != nil {
				return nil, fmt.Errorf("item %q: bad unit_price %q", item.Name, item.UnitPrice)
			}
			price = parsed
		}
		po.Items = append(po.Items, rawItem{
			Name:     item.Name,
			Quantity: item.Count,
			Price:    price,
			Notes:    item.Note,
		})
	}
	return po, nil
}

// woltPayload mirrors the marketplace's webhook: nested consumer/delivery
// blocks with prices in minor currency units.
type woltPayload struct {
	ID       string `json:"id"`
	Consumer struct {
		Name        string `json:"name"`
		PhoneNumber string `json:"phone_number"`
	} `json:"consumer"`
	Delivery struct {
		Location struct {
			FormattedAddress string `json:"formatted_address"`
		} `json:"location"`
	} `json:"delivery"`
	Items []struct {
		Name     string `json:"name"`
		Quantity int    `json:"quantity"`
		Price    struct {
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
		} `json:"price"`
		Comment string `json:"comment"`
	} `json:"items"`
}

func mapWolt(payload []byte) (*platformOrder, error) {
	var p woltPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}

	po := &platformOrder{
		ExternalID: strings.TrimSpace(p.ID),
		Name:       p.Consumer.Name,
		Phone:      p.Consumer.PhoneNumber,
		Address:    p.Delivery.Location.FormattedAddress,
	}
	for _, item := range p.Items {
		po.Items = append(po.Items, rawItem{
			Name:     item.Name,
			Quantity: item.Quantity,
			Price:    float64(item.Price.Amount) / 100,
			Notes:    item.Comment,
		})
	}
	return po, nil
}
