// Package coffeeshop implements the coffee-order demo workflows: pricing,
// inventory, and a combined order workflow that fans the two out
// concurrently and assembles an order summary.
package coffeeshop

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/mkonduru/flowd/internal/dispatch"
	"github.com/mkonduru/flowd/internal/schema"
	"github.com/mkonduru/flowd/internal/workflow"
)

// Menu pricing tables.
var (
	basePrices = map[string]float64{"small": 3.50, "medium": 4.00, "large": 4.50}

	drinkMarkups = map[string]float64{"latte": 1.00, "cappuccino": 1.00, "espresso": 0.50}

	extraPrices = map[string]float64{"extra_shot": 0.80, "whipped_cream": 0.50, "syrup": 0.50}

	discountRates = map[string]float64{"bronze": 0.0, "silver": 0.05, "gold": 0.10}
)

// Loyalty tier thresholds on total accumulated points.
const (
	goldThreshold   = 500
	silverThreshold = 200

	// mockCurrentPoints stands in for a customer-points lookup.
	mockCurrentPoints = 100

	baseWaitMinutes = 5
)

// Order is a customer's coffee order.
type Order struct {
	OrderID    string   `json:"order_id"`
	CustomerID string   `json:"customer_id"`
	DrinkType  string   `json:"drink_type"`
	Size       string   `json:"size"`
	Extras     []string `json:"extras"`
}

// Price breaks down the cost of one order.
type Price struct {
	OrderID         string  `json:"order_id"`
	BasePrice       float64 `json:"base_price"`
	ExtrasCost      float64 `json:"extras_cost"`
	LoyaltyDiscount float64 `json:"loyalty_discount"`
	FinalTotal      float64 `json:"final_total"`
}

// Loyalty is a customer's points position after an order.
type Loyalty struct {
	CustomerID   string `json:"customer_id"`
	PointsEarned int    `json:"points_earned"`
	TotalPoints  int    `json:"total_points"`
	CurrentTier  string `json:"current_tier"`
}

// ItemUsage records how much of one inventory item an order consumes.
type ItemUsage struct {
	Item     string `json:"item"`
	Quantity int    `json:"quantity"`
}

// InventoryUpdate is the stock impact of preparing one order.
type InventoryUpdate struct {
	ItemsUsed     []ItemUsage `json:"items_used"`
	RestockNeeded []string    `json:"restock_needed"`
}

// Register adds the coffee-shop workflows to the registry.
func Register(reg *workflow.Registry) error {
	for _, d := range []*workflow.Descriptor{processPricing(), processInventory(), processOrder()} {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// orderSchema is shared by all three workflows; they take the same order.
func orderSchema() schema.Object {
	return schema.Object{Fields: []schema.Field{
		{Name: "order_id", Type: schema.TypeString, Description: "Unique order identifier.", Required: true},
		{Name: "customer_id", Type: schema.TypeString, Description: "Customer placing the order.", Required: true},
		{Name: "drink_type", Type: schema.TypeString, Description: "Drink ordered, e.g. latte or espresso.", Required: true},
		{Name: "size", Type: schema.TypeString, Description: "One of small, medium, large.", Required: true},
		{Name: "extras", Type: schema.TypeArray, Description: "Additional items for the drink.",
			Items: &schema.Field{Type: schema.TypeString}},
	}}
}

func processPricing() *workflow.Descriptor {
	return &workflow.Descriptor{
		Name:        "process-pricing",
		Version:     "0.1.0",
		Description: "Prices a coffee order and updates the customer's loyalty points.",
		InputSchema: orderSchema(),
		OutputSchema: schema.Object{Fields: []schema.Field{
			{Name: "price_info", Type: schema.TypeObject},
			{Name: "loyalty_info", Type: schema.TypeObject},
		}},
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			order, err := decodeOrder(input)
			if err != nil {
				return nil, err
			}
			price, loyalty, err := priceOrder(order)
			if err != nil {
				return nil, err
			}
			return toMap(map[string]any{
				"price_info":   price,
				"loyalty_info": loyalty,
			})
		},
	}
}

func processInventory() *workflow.Descriptor {
	return &workflow.Descriptor{
		Name:        "process-inventory",
		Version:     "0.1.0",
		Description: "Computes the inventory impact of preparing a coffee order.",
		InputSchema: orderSchema(),
		OutputSchema: schema.Object{Fields: []schema.Field{
			{Name: "items_used", Type: schema.TypeArray},
			{Name: "restock_needed", Type: schema.TypeArray},
		}},
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			order, err := decodeOrder(input)
			if err != nil {
				return nil, err
			}
			update := checkInventory(order)
			if len(update.RestockNeeded) > 0 {
				dispatch.Logf(ctx, "low stock alert for items: %v", update.RestockNeeded)
			}
			return toMap(update)
		},
	}
}

func processOrder() *workflow.Descriptor {
	return &workflow.Descriptor{
		Name:        "process-order",
		Version:     "0.1.0",
		Description: "Runs pricing and inventory for an order and assembles the summary.",
		InputSchema: orderSchema(),
		OutputSchema: schema.Object{Fields: []schema.Field{
			{Name: "order_id", Type: schema.TypeString},
			{Name: "price_info", Type: schema.TypeObject},
			{Name: "loyalty_info", Type: schema.TypeObject},
			{Name: "inventory_status", Type: schema.TypeString},
			{Name: "status", Type: schema.TypeString},
			{Name: "estimated_wait", Type: schema.TypeInteger, Description: "Minutes until ready."},
		}},
		Handler: func(ctx context.Context, input map[string]any) (map[string]any, error) {
			order, err := decodeOrder(input)
			if err != nil {
				return nil, err
			}

			// Pricing and inventory are independent; run them concurrently.
			var (
				price   Price
				loyalty Loyalty
				update  InventoryUpdate
			)
			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				var err error
				price, loyalty, err = priceOrder(order)
				return err
			})
			g.Go(func() error {
				update = checkInventory(order)
				if len(update.RestockNeeded) > 0 {
					dispatch.Logf(ctx, "low stock alert for items: %v", update.RestockNeeded)
				}
				return nil
			})
			if err := g.Wait(); err != nil {
				return nil, err
			}

			inventoryStatus := "READY_TO_PREPARE"
			if len(update.RestockNeeded) > 0 {
				inventoryStatus = "WARNING_LOW_STOCK"
			}

			dispatch.Logf(ctx, "order %s accepted: total %.2f, wait %dm",
				order.OrderID, price.FinalTotal, baseWaitMinutes+len(order.Extras))

			return toMap(map[string]any{
				"order_id":         order.OrderID,
				"price_info":       price,
				"loyalty_info":     loyalty,
				"inventory_status": inventoryStatus,
				"status":           "ACCEPTED",
				"estimated_wait":   baseWaitMinutes + len(order.Extras),
			})
		},
	}
}

// priceOrder prices an order against the customer's pre-order loyalty tier,
// then recomputes loyalty from the final total.
func priceOrder(order Order) (Price, Loyalty, error) {
	initial := loyaltyPoints(order.CustomerID, 0)
	price, err := calculatePrice(order, initial.CurrentTier)
	if err != nil {
		return Price{}, Loyalty{}, err
	}
	final := loyaltyPoints(order.CustomerID, price.FinalTotal)
	return price, final, nil
}

func calculatePrice(order Order, loyaltyTier string) (Price, error) {
	base, ok := basePrices[order.Size]
	if !ok {
		return Price{}, fmt.Errorf("unknown size %q", order.Size)
	}
	base += drinkMarkups[order.DrinkType]

	var extrasCost float64
	for _, extra := range order.Extras {
		extrasCost += extraPrices[extra]
	}

	discount := (base + extrasCost) * discountRates[loyaltyTier]
	return Price{
		OrderID:         order.OrderID,
		BasePrice:       base,
		ExtrasCost:      extrasCost,
		LoyaltyDiscount: discount,
		FinalTotal:      base + extrasCost - discount,
	}, nil
}

func loyaltyPoints(customerID string, orderTotal float64) Loyalty {
	earned := int(orderTotal)
	total := mockCurrentPoints + earned

	tier := "bronze"
	switch {
	case total > goldThreshold:
		tier = "gold"
	case total > silverThreshold:
		tier = "silver"
	}

	return Loyalty{
		CustomerID:   customerID,
		PointsEarned: earned,
		TotalPoints:  total,
		CurrentTier:  tier,
	}
}

func checkInventory(order Order) InventoryUpdate {
	used := []ItemUsage{
		{Item: "coffee_beans", Quantity: 20},
	}
	if order.DrinkType == "latte" || order.DrinkType == "cappuccino" {
		used = append(used, ItemUsage{Item: "milk", Quantity: 200})
	} else {
		used = append(used, ItemUsage{Item: "milk", Quantity: 0})
	}
	if slices.Contains(order.Extras, "extra_shot") {
		used = append(used, ItemUsage{Item: "coffee_beans", Quantity: 10})
	}

	restock := []string{}
	if order.DrinkType == "espresso" {
		restock = append(restock, "coffee_beans")
	}

	return InventoryUpdate{ItemsUsed: used, RestockNeeded: restock}
}

// decodeOrder converts the validated input map into an Order.
func decodeOrder(input map[string]any) (Order, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return Order{}, fmt.Errorf("encode order input: %w", err)
	}
	var order Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return Order{}, fmt.Errorf("decode order input: %w", err)
	}
	return order, nil
}

// toMap converts an output value to the generic map form handlers return.
func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode output: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}
	return out, nil
}
