// Package report rolls the stock ledger up into daily and period reports.
package report

import (
	"time"

	"github.com/nemonet1337/tireshop-ledger/pkg/inventory"
)

// Kind tells a daily report from a period report.
type Kind string

const (
	KindDaily  Kind = "daily"
	KindPeriod Kind = "period"
)

// Row is the balance of one product over the report window
// ยอดของสินค้าหนึ่งรายการในช่วงรายงาน
type Row struct {
	Product   inventory.ProductRef `json:"product"`
	Name      string               `json:"name"`
	Brand     string               `json:"brand"`
	Category  string               `json:"category,omitempty"`
	IsDeleted bool                 `json:"is_deleted"`
	inventory.Aggregate
}

// Group collects the rows of one brand, or one category and brand for spare parts.
type Group struct {
	Category string              `json:"category,omitempty"`
	Brand    string              `json:"brand"`
	Rows     []Row               `json:"rows"`
	Subtotal inventory.Aggregate `json:"subtotal"`
}

// Key is the display label of the group.
func (g *Group) Key() string {
	if g.Category == "" {
		return g.Brand
	}
	return g.Category + " > " + g.Brand
}

// ProductMovements are the raw ledger rows of one product inside the window.
type ProductMovements struct {
	Product   inventory.ProductRef `json:"product"`
	Name      string               `json:"name"`
	Movements []inventory.Movement `json:"movements"`
}

// FamilySection is the part of a report covering one product family
// ส่วนของรายงานแยกตามประเภทสินค้า
type FamilySection struct {
	Family    inventory.Family    `json:"family"`
	Groups    []Group             `json:"groups"`
	Total     inventory.Aggregate `json:"total"`
	Movements []ProductMovements  `json:"movements,omitempty"`
}

// ReturnDetail describes one RETURN movement in the channel breakdown.
type ReturnDetail struct {
	Product            inventory.ProductRef `json:"product"`
	Name               string               `json:"name"`
	MovementID         int64                `json:"movement_id"`
	Timestamp          time.Time            `json:"timestamp"`
	Quantity           int64                `json:"quantity"`
	ReturnCustomerType string               `json:"return_customer_type"`
	OnlinePlatform     string               `json:"online_platform,omitempty"`
	WholesaleCustomer  string               `json:"wholesale_customer,omitempty"`
}

// Flow sums IN and OUT and lists RETURN rows for one channel or sub-channel.
type Flow struct {
	Name    string         `json:"name"`
	In      int64          `json:"in"`
	Out     int64          `json:"out"`
	Returns []ReturnDetail `json:"returns"`
}

// ChannelSummary is the breakdown of one sales channel, nested by online
// platform and by wholesale customer where movements carry them
// สรุปตามช่องทางการขาย
type ChannelSummary struct {
	Flow
	Platforms []Flow `json:"platforms,omitempty"`
	Customers []Flow `json:"customers,omitempty"`
}

// Report is a daily or period roll-up of every family's ledger
// รายงานสรุปสต็อก
type Report struct {
	Kind        Kind                `json:"kind"`
	FromDate    time.Time           `json:"from_date"`
	ToDate      time.Time           `json:"to_date"`
	Sections    []FamilySection     `json:"sections"`
	Channels    []ChannelSummary    `json:"channels"`
	GrandTotal  inventory.Aggregate `json:"grand_total"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// Section returns the section of family, or nil.
func (r *Report) Section(family inventory.Family) *FamilySection {
	for i := range r.Sections {
		if r.Sections[i].Family == family {
			return &r.Sections[i]
		}
	}
	return nil
}

// Row returns the row of ref, or nil when the product is not in the report.
func (r *Report) Row(ref inventory.ProductRef) *Row {
	s := r.Section(ref.Family)
	if s == nil {
		return nil
	}
	for gi := range s.Groups {
		for ri := range s.Groups[gi].Rows {
			if s.Groups[gi].Rows[ri].Product == ref {
				return &s.Groups[gi].Rows[ri]
			}
		}
	}
	return nil
}

// Channel returns the summary of the named channel, or nil.
func (r *Report) Channel(name string) *ChannelSummary {
	for i := range r.Channels {
		if r.Channels[i].Name == name {
			return &r.Channels[i]
		}
	}
	return nil
}
