package model

// WooOrder is the subset of the WooCommerce order webhook payload the
// follow-up flow reads.
type WooOrder struct {
	ID            int64      `json:"id" validate:"gt=0"`
	Status        string     `json:"status" validate:"required"`
	DateCompleted *string    `json:"date_completed"`
	Total         string     `json:"total"`
	Billing       WooBilling `json:"billing"`
}

type WooBilling struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone"`
}

const WooStatusCompleted = "completed"

// StockUpdate is the restock webhook payload.
type StockUpdate struct {
	ProductID   int64  `json:"productId" validate:"gt=0"`
	ProductSKU  string `json:"sku"`
	ProductName string `json:"productName"`
	Variant     string `json:"variant"`
	Quantity    int    `json:"quantity"`
}

// StockSubscription is the public "notify me" form payload.
type StockSubscription struct {
	Email       string                 `json:"email" validate:"required,email"`
	FirstName   string                 `json:"firstName"`
	LastName    string                 `json:"lastName"`
	ProductID   int64                  `json:"productId" validate:"gt=0"`
	ProductName string                 `json:"productName" validate:"required"`
	ProductSKU  string                 `json:"productSku"`
	Variant     string                 `json:"variant"`
	Metadata    map[string]interface{} `json:"metadata"`
}
