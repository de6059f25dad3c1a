package cache

import (
	"fmt"
	"time"
)

// Key prefixes. Every key built below starts with one of these, so passing a
// prefix to Invalidate drops all its variants.
const (
	PrefixProducts         = "products:"
	PrefixBrands           = "brands:"
	PrefixCategories       = "categories:"
	PrefixPromotions       = "promotions:"
	PrefixChannels         = "channels:"
	PrefixPlatforms        = "platforms:"
	PrefixCustomers        = "wholesale_customers:"
	PrefixUnread           = "notifications:unread:"
	PrefixWholesaleSummary = "wholesale_summary:"
	PrefixAnnouncements    = "announcements:"
)

// TTLs per key family.
const (
	TTLProducts   = 5 * time.Minute
	TTLMasters    = 15 * time.Minute
	TTLStatic     = 8 * time.Hour
	TTLUnread     = time.Minute
	TTLStatistics = 10 * time.Minute
)

// ProductsPrefix is the invalidation prefix for one family's listings.
func ProductsPrefix(family string) string {
	return PrefixProducts + family + ":"
}

// ProductListKey identifies one filtered listing of a family.
func ProductListKey(family, query, brand string, categoryID int64, includeDeleted bool) string {
	return fmt.Sprintf("%sq=%s|b=%s|c=%d|d=%t", ProductsPrefix(family), query, brand, categoryID, includeDeleted)
}

// BrandsKey identifies the distinct brand list of a family.
func BrandsKey(family string) string {
	return PrefixBrands + family
}

// CategoryTreeKey identifies the full category forest.
func CategoryTreeKey() string {
	return PrefixCategories + "tree"
}

// PromotionsKey identifies the promotion list.
func PromotionsKey(includeInactive bool) string {
	if includeInactive {
		return PrefixPromotions + "all"
	}
	return PrefixPromotions + "active"
}

// ChannelsKey identifies the sales channel list.
func ChannelsKey() string { return PrefixChannels + "all" }

// PlatformsKey identifies the online platform list.
func PlatformsKey() string { return PrefixPlatforms + "all" }

// CustomersKey identifies the wholesale customer list.
func CustomersKey() string { return PrefixCustomers + "all" }

// UnreadKey identifies one user's unread notification count. The trailing
// delimiter keeps user 1's key from prefixing user 10's.
func UnreadKey(userID int64) string {
	return fmt.Sprintf("%s%d:", PrefixUnread, userID)
}

// AnnouncementsKey identifies the announcement board.
func AnnouncementsKey(includeInactive bool) string {
	if includeInactive {
		return PrefixAnnouncements + "all"
	}
	return PrefixAnnouncements + "active"
}

// WholesaleSummaryKey identifies the per-customer sales statistics.
func WholesaleSummaryKey() string { return PrefixWholesaleSummary + "all" }
