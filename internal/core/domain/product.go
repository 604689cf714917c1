package domain

import "github.com/shopspring/decimal"

type ProductVariant struct {
	ID    string
	Name  string
	SKU   string
	Price decimal.Decimal
}

// Product is the catalog view consumed when pricing cart lines.
type Product struct {
	ID        string
	Name      string
	SKU       string
	BasePrice decimal.Decimal
	Currency  string
	Variants  []ProductVariant
}

// CartItem prices quantity units of the product, or of variantID when set.
func (p Product) CartItem(variantID string, quantity int) (CartItem, error) {
	item := CartItem{
		ProductID:   p.ID,
		ProductName: p.Name,
		SKU:         p.SKU,
		Quantity:    quantity,
		UnitPrice:   p.BasePrice,
		Currency:    p.Currency,
	}
	if variantID == "" {
		return item, nil
	}
	for _, v := range p.Variants {
		if v.ID == variantID {
			item.VariantID = v.ID
			item.SKU = v.SKU
			item.ProductName = p.Name + " - " + v.Name
			item.UnitPrice = v.Price
			return item, nil
		}
	}
	return CartItem{}, NewNotFoundError("product variant", variantID)
}
