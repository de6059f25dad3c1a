package inventory

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/nemonet1337/tireshop-ledger/pkg/cache"
	"github.com/nemonet1337/tireshop-ledger/pkg/identity"
)

// attachBarcode inserts code for ref inside q. Re-attaching a code the product
// already owns is a no-op; the first code of a product becomes primary.
func attachBarcode(ctx context.Context, q Queries, ref ProductRef, code string, now time.Time) error {
	existing, err := q.GetBarcode(ctx, code)
	switch {
	case err == nil && existing.Ref() == ref:
		return nil
	case err == nil:
		return NewConflictError(ConflictBarcodeCollision, "barcode "+code+" belongs to "+existing.Ref().String(), existing)
	case !errors.Is(err, ErrNotFound):
		return NewStorageError("get_barcode", err)
	}

	owned, err := q.ListBarcodes(ctx, ref)
	if err != nil {
		return NewStorageError("list_barcodes", err)
	}
	b := &Barcode{
		Code:      code,
		Family:    ref.Family,
		ProductID: ref.ID,
		IsPrimary: len(owned) == 0,
		CreatedAt: now,
	}
	if err := q.InsertBarcode(ctx, b); err != nil {
		return NewStorageError("insert_barcode", err)
	}
	return nil
}

// AttachBarcode maps a scanned code to a product
// ผูกบาร์โค้ดกับสินค้า
func (m *Manager) AttachBarcode(ctx context.Context, p identity.Principal, ref ProductRef, code string) (Barcode, error) {
	if err := m.authorize(p, identity.OpEditCatalog); err != nil {
		return Barcode{}, err
	}
	if err := ValidateBarcode(code); err != nil {
		return Barcode{}, err
	}

	var b Barcode
	err := m.writeTx(ctx, "attach_barcode", func(q Queries) error {
		if _, err := q.LockProduct(ctx, ref); err != nil {
			return NewStorageError("lock_product", err)
		}
		if err := attachBarcode(ctx, q, ref, code, m.now()); err != nil {
			return err
		}
		var err error
		b, err = q.GetBarcode(ctx, code)
		return NewStorageError("get_barcode", err)
	})
	if err != nil {
		return Barcode{}, err
	}

	m.invalidate(ctx, cache.ProductsPrefix(string(ref.Family)))
	m.logger.Info("barcode attached",
		zap.String("barcode", code),
		zap.String("product", ref.String()),
		zap.Bool("primary", b.IsPrimary),
		zap.String("user", p.Username),
	)
	m.emitActivity(ctx, p, "attach_barcode", ref.String(), map[string]string{"barcode": code})
	return b, nil
}

// DetachBarcode removes a code. When it was primary, the next remaining code
// of the product is promoted.
// ยกเลิกการผูกบาร์โค้ด
func (m *Manager) DetachBarcode(ctx context.Context, p identity.Principal, code string) error {
	if err := m.authorize(p, identity.OpEditCatalog); err != nil {
		return err
	}

	var removed Barcode
	err := m.writeTx(ctx, "detach_barcode", func(q Queries) error {
		var err error
		removed, err = q.GetBarcode(ctx, code)
		if err != nil {
			return NewStorageError("get_barcode", err)
		}
		if _, err := q.LockProduct(ctx, removed.Ref()); err != nil {
			return NewStorageError("lock_product", err)
		}
		if err := q.DeleteBarcode(ctx, code); err != nil {
			return NewStorageError("delete_barcode", err)
		}
		if !removed.IsPrimary {
			return nil
		}
		rest, err := q.ListBarcodes(ctx, removed.Ref())
		if err != nil {
			return NewStorageError("list_barcodes", err)
		}
		if len(rest) == 0 {
			return nil
		}
		return NewStorageError("set_primary_barcode", q.SetPrimaryBarcode(ctx, removed.Ref(), rest[0].Code))
	})
	if err != nil {
		return err
	}

	m.invalidate(ctx, cache.ProductsPrefix(string(removed.Family)))
	m.logger.Info("barcode detached",
		zap.String("barcode", code),
		zap.String("product", removed.Ref().String()),
		zap.String("user", p.Username),
	)
	m.emitActivity(ctx, p, "detach_barcode", removed.Ref().String(), map[string]string{"barcode": code})
	return nil
}

// SetPrimaryBarcode makes code the primary barcode of its product.
func (m *Manager) SetPrimaryBarcode(ctx context.Context, p identity.Principal, code string) error {
	if err := m.authorize(p, identity.OpEditCatalog); err != nil {
		return err
	}
	return m.writeTx(ctx, "set_primary_barcode", func(q Queries) error {
		b, err := q.GetBarcode(ctx, code)
		if err != nil {
			return NewStorageError("get_barcode", err)
		}
		return NewStorageError("set_primary_barcode", q.SetPrimaryBarcode(ctx, b.Ref(), code))
	})
}

// LookupBarcode resolves a scanned code to its product
// ค้นหาสินค้าจากบาร์โค้ด
func (m *Manager) LookupBarcode(ctx context.Context, p identity.Principal, code string) (ProductView, error) {
	if err := m.authorize(p, identity.OpViewCatalog); err != nil {
		return ProductView{}, err
	}
	if err := ValidateBarcode(code); err != nil {
		return ProductView{}, err
	}
	b, err := m.storage.GetBarcode(ctx, code)
	if err != nil {
		return ProductView{}, NewStorageError("get_barcode", err)
	}
	prod, err := m.storage.GetProduct(ctx, b.Ref())
	if err != nil {
		return ProductView{}, NewStorageError("get_product", err)
	}
	return m.view(ctx, prod, p.Role)
}
