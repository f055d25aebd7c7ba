package cart

import "github.com/google/uuid"

type addItemRequest struct {
	ProductID uuid.UUID  `json:"product_id" validate:"required"`
	VariantID *uuid.UUID `json:"variant_id,omitempty"`
	Quantity  int        `json:"quantity" validate:"gt=0,max=1000"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity" validate:"gte=0,max=1000"`
}
