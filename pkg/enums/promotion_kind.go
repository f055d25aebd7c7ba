package enums

// PromotionKind selects how a promotion code computes its discount.
type PromotionKind string

const (
	PromotionKindPercent PromotionKind = "percent"
	PromotionKindFixed   PromotionKind = "fixed"
)

var promotionKinds = newValueSet("promotion kind", PromotionKindPercent, PromotionKindFixed)

func (k PromotionKind) IsValid() bool { return promotionKinds.has(k) }
