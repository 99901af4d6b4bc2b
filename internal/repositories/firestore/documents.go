package firestore

import (
	"time"

	domain "github.com/productshop/api/internal/domain"
)

const (
	productsCollection = "products"
	optionsCollection  = "productOptions"
	membersCollection  = "members"
	ordersCollection   = "orders"
)

type productDocument struct {
	Title     string    `firestore:"title"`
	Category  string    `firestore:"category"`
	Price     int64     `firestore:"price"`
	Stock     int64     `firestore:"stock"`
	OptionIDs []string  `firestore:"optionIds"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:        id,
		Title:     d.Title,
		Category:  d.Category,
		Price:     d.Price,
		Stock:     d.Stock,
		OptionIDs: append([]string(nil), d.OptionIDs...),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

type optionDocument struct {
	ProductID string    `firestore:"productId"`
	Name      string    `firestore:"name"`
	Price     int64     `firestore:"price"`
	Stock     int64     `firestore:"stock"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d optionDocument) toDomain(id string) domain.ProductOption {
	return domain.ProductOption{
		ID:        id,
		ProductID: d.ProductID,
		Name:      d.Name,
		Price:     d.Price,
		Stock:     d.Stock,
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

type shippingDocument struct {
	RecipientName string `firestore:"recipientName"`
	ZipCode       string `firestore:"zipCode"`
	Address       string `firestore:"address"`
	Phone         string `firestore:"phone"`
}

func newShippingDocument(p domain.ShippingProfile) shippingDocument {
	return shippingDocument{RecipientName: p.RecipientName, ZipCode: p.ZipCode, Address: p.Address, Phone: p.Phone}
}

func (d shippingDocument) toDomain() domain.ShippingProfile {
	return domain.ShippingProfile{RecipientName: d.RecipientName, ZipCode: d.ZipCode, Address: d.Address, Phone: d.Phone}
}

type memberDocument struct {
	Email    string           `firestore:"email"`
	Shipping shippingDocument `firestore:"shipping"`
}

type orderLineDocument struct {
	ID           string `firestore:"id"`
	ProductID    string `firestore:"productId"`
	OptionID     string `firestore:"optionId,omitempty"`
	ProductTitle string `firestore:"productTitle"`
	OptionName   string `firestore:"optionName,omitempty"`
	Quantity     int64  `firestore:"quantity"`
	ProductPrice int64  `firestore:"productPrice"`
	OptionPrice  int64  `firestore:"optionPrice"`
	UnitPrice    int64  `firestore:"unitPrice"`
	LineTotal    int64  `firestore:"lineTotal"`
}

// orderDocument embeds the line snapshots; an order is read and written as a single document.
type orderDocument struct {
	MemberID          string              `firestore:"memberId"`
	Status            string              `firestore:"status"`
	Paid              bool                `firestore:"paid"`
	PaymentMethod     string              `firestore:"paymentMethod"`
	ItemsTotal        int64               `firestore:"itemsTotal"`
	ShippingFee       int64               `firestore:"shippingFee"`
	TotalPrice        int64               `firestore:"totalPrice"`
	Shipping          shippingDocument    `firestore:"shipping"`
	RequestNote       string              `firestore:"requestNote,omitempty"`
	FailureReason     string              `firestore:"failureReason,omitempty"`
	CancelReason      string              `firestore:"cancelReason,omitempty"`
	ReturnReason      string              `firestore:"returnReason,omitempty"`
	Lines             []orderLineDocument `firestore:"lines"`
	CreatedAt         time.Time           `firestore:"createdAt"`
	UpdatedAt         time.Time           `firestore:"updatedAt"`
	StatusChangedAt   time.Time           `firestore:"statusChangedAt"`
	PaidAt            *time.Time          `firestore:"paidAt"`
	FailedAt          *time.Time          `firestore:"failedAt"`
	ShippedAt         *time.Time          `firestore:"shippedAt"`
	DeliveredAt       *time.Time          `firestore:"deliveredAt"`
	CancelledAt       *time.Time          `firestore:"cancelledAt"`
	ReturnRequestedAt *time.Time          `firestore:"returnRequestedAt"`
}

func newOrderDocument(order domain.Order) orderDocument {
	lines := make([]orderLineDocument, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, orderLineDocument{
			ID:           line.ID,
			ProductID:    line.ProductID,
			OptionID:     line.OptionID,
			ProductTitle: line.ProductTitle,
			OptionName:   line.OptionName,
			Quantity:     line.Quantity,
			ProductPrice: line.ProductPrice,
			OptionPrice:  line.OptionPrice,
			UnitPrice:    line.UnitPrice,
			LineTotal:    line.LineTotal,
		})
	}
	return orderDocument{
		MemberID:          order.MemberID,
		Status:            string(order.Status),
		Paid:              order.Paid,
		PaymentMethod:     string(order.PaymentMethod),
		ItemsTotal:        order.ItemsTotal,
		ShippingFee:       order.ShippingFee,
		TotalPrice:        order.TotalPrice,
		Shipping:          newShippingDocument(order.Shipping),
		RequestNote:       order.RequestNote,
		FailureReason:     string(order.FailureReason),
		CancelReason:      order.CancelReason,
		ReturnReason:      order.ReturnReason,
		Lines:             lines,
		CreatedAt:         order.CreatedAt.UTC(),
		UpdatedAt:         order.UpdatedAt.UTC(),
		StatusChangedAt:   order.StatusChangedAt.UTC(),
		PaidAt:            order.PaidAt,
		FailedAt:          order.FailedAt,
		ShippedAt:         order.ShippedAt,
		DeliveredAt:       order.DeliveredAt,
		CancelledAt:       order.CancelledAt,
		ReturnRequestedAt: order.ReturnRequestedAt,
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	lines := make([]domain.OrderLine, 0, len(d.Lines))
	for _, line := range d.Lines {
		lines = append(lines, domain.OrderLine{
			ID:           line.ID,
			ProductID:    line.ProductID,
			OptionID:     line.OptionID,
			ProductTitle: line.ProductTitle,
			OptionName:   line.OptionName,
			Quantity:     line.Quantity,
			ProductPrice: line.ProductPrice,
			OptionPrice:  line.OptionPrice,
			UnitPrice:    line.UnitPrice,
			LineTotal:    line.LineTotal,
		})
	}
	return domain.Order{
		ID:                id,
		MemberID:          d.MemberID,
		Status:            domain.OrderStatus(d.Status),
		Paid:              d.Paid,
		PaymentMethod:     domain.PaymentMethod(d.PaymentMethod),
		ItemsTotal:        d.ItemsTotal,
		ShippingFee:       d.ShippingFee,
		TotalPrice:        d.TotalPrice,
		Shipping:          d.Shipping.toDomain(),
		RequestNote:       d.RequestNote,
		FailureReason:     domain.ReservationFailure(d.FailureReason),
		CancelReason:      d.CancelReason,
		ReturnReason:      d.ReturnReason,
		Lines:             lines,
		CreatedAt:         d.CreatedAt.UTC(),
		UpdatedAt:         d.UpdatedAt.UTC(),
		StatusChangedAt:   d.StatusChangedAt.UTC(),
		PaidAt:            utcPtr(d.PaidAt),
		FailedAt:          utcPtr(d.FailedAt),
		ShippedAt:         utcPtr(d.ShippedAt),
		DeliveredAt:       utcPtr(d.DeliveredAt),
		CancelledAt:       utcPtr(d.CancelledAt),
		ReturnRequestedAt: utcPtr(d.ReturnRequestedAt),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
