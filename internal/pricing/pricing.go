// Package pricing содержит расчёт стоимости заказа.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/ndmitriev/storefront-system/internal/model"
)

// Бесплатная доставка действует при сумме товаров строго больше порога.
var (
	freeShippingThresholdCents = decimal.NewFromInt(10000)
	flatShippingCents          = decimal.NewFromInt(1000)
	taxRate                    = decimal.NewFromFloat(0.15)
)

// Prices содержит рассчитанные суммы заказа в копейках.
type Prices struct {
	ItemsCents    int64
	ShippingCents int64
	TaxCents      int64
	TotalCents    int64
}

// Calculate вычисляет суммы заказа по позициям: стоимость товаров,
// доставку, налог и итог. Функция детерминирована и не имеет побочных
// эффектов. Пустой список позиций даёт нулевую стоимость товаров, но
// платную доставку: порог бесплатной доставки не достигнут.
func Calculate(items []model.OrderItem) Prices {
	itemsPrice := decimal.Zero
	for _, item := range items {
		price := decimal.NewFromInt(item.PriceCents)
		qty := decimal.NewFromInt(int64(item.Qty))
		itemsPrice = itemsPrice.Add(price.Mul(qty))
	}

	shippingPrice := flatShippingCents
	if itemsPrice.GreaterThan(freeShippingThresholdCents) {
		shippingPrice = decimal.Zero
	}

	taxPrice := itemsPrice.Mul(taxRate).Round(0)
	totalPrice := itemsPrice.Add(shippingPrice).Add(taxPrice)

	return Prices{
		ItemsCents:    itemsPrice.IntPart(),
		ShippingCents: shippingPrice.IntPart(),
		TaxCents:      taxPrice.IntPart(),
		TotalCents:    totalPrice.IntPart(),
	}
}
