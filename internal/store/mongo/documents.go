package mongo

import (
	"time"

	"posledger/internal/domain"
)

// Document shapes for the collections. Field names follow the camelCase
// keys the register client already reads.

type categoryDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	Enabled   bool      `bson:"enabled"`
	InOrders  bool      `bson:"inOrders"`
	CreatedAt time.Time `bson:"createdAt"`
}

func fromCategory(c domain.Category) categoryDoc {
	return categoryDoc{ID: c.ID, Name: c.Name, Enabled: c.Enabled, InOrders: c.InOrders, CreatedAt: c.CreatedAt}
}

func (d categoryDoc) toDomain() domain.Category {
	return domain.Category{ID: d.ID, Name: d.Name, Enabled: d.Enabled, InOrders: d.InOrders, CreatedAt: d.CreatedAt.UTC()}
}

type productDoc struct {
	ID             string    `bson:"_id"`
	Name           string    `bson:"name"`
	Category       string    `bson:"category"`
	PurchasePrice  int64     `bson:"purchasePrice"`
	SalesPrice     int64     `bson:"salesPrice"`
	RemainingStock int       `bson:"remainingStock"`
	TotalStock     int       `bson:"totalStock"`
	CreatedAt      time.Time `bson:"createdAt"`
}

func fromProduct(p domain.Product) productDoc {
	return productDoc{
		ID: p.ID, Name: p.Name, Category: p.Category,
		PurchasePrice: p.PurchasePrice, SalesPrice: p.SalesPrice,
		RemainingStock: p.RemainingStock, TotalStock: p.TotalStock, CreatedAt: p.CreatedAt,
	}
}

func (d productDoc) toDomain() domain.Product {
	return domain.Product{
		ID: d.ID, Name: d.Name, Category: d.Category,
		PurchasePrice: d.PurchasePrice, SalesPrice: d.SalesPrice,
		RemainingStock: d.RemainingStock, TotalStock: d.TotalStock, CreatedAt: d.CreatedAt.UTC(),
	}
}

type inventoryDoc struct {
	ID          string    `bson:"_id"`
	ProductID   string    `bson:"productId"`
	ProductName string    `bson:"productName"`
	Type        string    `bson:"type"`
	Reason      string    `bson:"reason"`
	Adjustment  int       `bson:"adjustment"`
	AfterStock  int       `bson:"afterStock"`
	OrderID     string    `bson:"orderId,omitempty"`
	Timestamp   time.Time `bson:"timestamp"`
}

func fromRecord(r domain.InventoryRecord) inventoryDoc {
	return inventoryDoc(r)
}

func (d inventoryDoc) toDomain() domain.InventoryRecord {
	r := domain.InventoryRecord(d)
	r.Timestamp = r.Timestamp.UTC()
	return r
}

type lineDoc struct {
	ProductID string `bson:"id"`
	Name      string `bson:"name"`
	Price     int64  `bson:"price"`
	Quantity  int    `bson:"quantity"`
}

type changeLogDoc struct {
	Type      string    `bson:"type"`
	Before    string    `bson:"before,omitempty"`
	After     string    `bson:"after,omitempty"`
	Reason    string    `bson:"reason,omitempty"`
	UpdatedAt time.Time `bson:"updatedAt"`
	UpdatedBy string    `bson:"updatedBy"`
}

type orderDoc struct {
	ID            string         `bson:"_id"`
	Items         []lineDoc      `bson:"items"`
	TotalAmount   int64          `bson:"totalAmount"`
	Discount      int64          `bson:"discount"`
	FinalAmount   int64          `bson:"finalAmount"`
	PaymentMethod string         `bson:"paymentMethod"`
	Status        string         `bson:"status"`
	Timestamp     time.Time      `bson:"timestamp"`
	IsExpense     bool           `bson:"isExpense,omitempty"`
	PurchaseTotal int64          `bson:"purchaseTotal,omitempty"`
	Memo          string         `bson:"memo,omitempty"`
	ChangeLogs    []changeLogDoc `bson:"changeLogs,omitempty"`
}

func fromOrder(o domain.Order) orderDoc {
	d := orderDoc{
		ID: o.ID, TotalAmount: o.TotalAmount, Discount: o.Discount, FinalAmount: o.FinalAmount,
		PaymentMethod: o.PaymentMethod, Status: o.Status, Timestamp: o.Timestamp,
		IsExpense: o.IsExpense, PurchaseTotal: o.PurchaseTotal, Memo: o.Memo,
		Items: make([]lineDoc, 0, len(o.Items)),
	}
	for _, l := range o.Items {
		d.Items = append(d.Items, lineDoc(l))
	}
	for _, c := range o.ChangeLogs {
		d.ChangeLogs = append(d.ChangeLogs, changeLogDoc(c))
	}
	return d
}

func (d orderDoc) toDomain() domain.Order {
	o := domain.Order{
		ID: d.ID, TotalAmount: d.TotalAmount, Discount: d.Discount, FinalAmount: d.FinalAmount,
		PaymentMethod: d.PaymentMethod, Status: d.Status, Timestamp: d.Timestamp.UTC(),
		IsExpense: d.IsExpense, PurchaseTotal: d.PurchaseTotal, Memo: d.Memo,
		Items: make([]domain.OrderLine, 0, len(d.Items)),
	}
	for _, l := range d.Items {
		o.Items = append(o.Items, domain.OrderLine(l))
	}
	for _, c := range d.ChangeLogs {
		o.ChangeLogs = append(o.ChangeLogs, domain.ChangeLog(c))
	}
	return o
}

type userDoc struct {
	Email     string    `bson:"_id"`
	Password  string    `bson:"password"`
	Role      string    `bson:"role"`
	Active    bool      `bson:"active"`
	CreatedAt time.Time `bson:"createdAt"`
}

func fromUser(u domain.UserAccount) userDoc {
	return userDoc(u)
}

func (d userDoc) toDomain() domain.UserAccount {
	u := domain.UserAccount(d)
	u.CreatedAt = u.CreatedAt.UTC()
	return u
}
