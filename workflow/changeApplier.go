package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/mmdatafocus/routesync_backend/config"
	"github.com/mmdatafocus/routesync_backend/models"
	"github.com/mmdatafocus/routesync_backend/utils"
	"gorm.io/gorm"
)

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// changeApplier writes proposals to the live store inside one transaction.
// Only columns listed in the entity's writable FieldSpecs are ever updated.
type changeApplier struct {
	ctx context.Context
	tx  *gorm.DB
}

// newChangeApplier marks ctx as a live-store write and binds it to tx.
func newChangeApplier(ctx context.Context, tx *gorm.DB) *changeApplier {
	return &changeApplier{ctx: config.WithLiveStoreWrite(ctx), tx: tx}
}

func applyErr(p models.ChangeProposal, err error) error {
	return &utils.ApplyError{Key: p.ID, Err: err}
}

// Apply dispatches one proposal by entity and action.
func (a *changeApplier) Apply(p models.ChangeProposal) error {
	var err error
	switch p.Entity {
	case models.EntityTypeCustomer:
		err = a.applyCustomer(p)
	case models.EntityTypeRoute:
		err = a.applyRoute(p)
	case models.EntityTypeItem:
		err = a.applyItem(p)
	default:
		err = fmt.Errorf("unknown entity %q", p.Entity)
	}
	if err != nil {
		return applyErr(p, err)
	}
	changesApplied.WithLabelValues(string(p.Entity), string(p.Action)).Inc()
	return nil
}

// updateColumns converts field differences into a column map, dropping anything
// that is not an allow-listed writable field.
func updateColumns(entity models.EntityType, diffs []models.FieldDifference) (map[string]any, error) {
	cols := make(map[string]any, len(diffs))
	for _, d := range diffs {
		spec, ok := models.LookupWritableField(entity, d.Field)
		if !ok {
			continue
		}
		v, err := spec.DBValue(d.NewValue)
		if err != nil {
			return nil, err
		}
		cols[spec.Column] = v
	}
	return cols, nil
}

// sourceColumns renders every writable field of a source record.
func sourceColumns(entity models.EntityType, r models.Reconcilable) (map[string]any, error) {
	values := r.FieldValues()
	specs := models.WritableFields(entity)
	cols := make(map[string]any, len(specs))
	for _, spec := range specs {
		raw, ok := values[spec.Name]
		if !ok {
			continue
		}
		v, err := spec.DBValue(raw)
		if err != nil {
			return nil, err
		}
		cols[spec.Column] = v
	}
	return cols, nil
}

func (a *changeApplier) patch(model any, keyColumn string, key any, cols map[string]any) error {
	if len(cols) == 0 {
		return nil
	}
	res := a.tx.WithContext(a.ctx).Model(model).Where(keyColumn+" = ?", key).Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s %v no longer exists", keyColumn, key)
	}
	return nil
}

func (a *changeApplier) applyCustomer(p models.ChangeProposal) error {
	switch p.Action {
	case models.ChangeActionCreate:
		c, err := models.DecodeSource[models.Customer](p)
		if err != nil {
			return err
		}
		return a.insertCustomer(c)
	case models.ChangeActionUpdate:
		cols, err := updateColumns(models.EntityTypeCustomer, p.FieldDifferences)
		if err != nil {
			return err
		}
		return a.patch(&models.Customer{}, "customer_number", p.CustomerNumber, cols)
	case models.ChangeActionRemove:
		return a.patch(&models.Customer{}, "customer_number", p.CustomerNumber, map[string]any{"is_active": false})
	}
	return fmt.Errorf("unknown action %q", p.Action)
}

// insertCustomer inserts a new customer. When the number already exists (an
// inactive customer coming back) the row is reactivated and refreshed instead.
func (a *changeApplier) insertCustomer(c models.Customer) error {
	c.ID = 0
	c.IsActive = utils.NewTrue()
	err := a.tx.WithContext(a.ctx).Create(&c).Error
	if err == nil {
		return nil
	}
	if !isUniqueViolation(err) {
		return err
	}
	cols, err := sourceColumns(models.EntityTypeCustomer, c)
	if err != nil {
		return err
	}
	cols["is_active"] = true
	return a.patch(&models.Customer{}, "customer_number", c.CustomerNumber, cols)
}

func (a *changeApplier) applyRoute(p models.ChangeProposal) error {
	switch p.Action {
	case models.ChangeActionCreate:
		r, err := models.DecodeSource[models.Route](p)
		if err != nil {
			return err
		}
		r.ID = 0
		if r.IsActive == nil {
			r.IsActive = utils.NewTrue()
		}
		err = a.tx.WithContext(a.ctx).Create(&r).Error
		if err != nil && isUniqueViolation(err) {
			cols, cerr := sourceColumns(models.EntityTypeRoute, r)
			if cerr != nil {
				return cerr
			}
			return a.patch(&models.Route{}, "route_number", r.RouteNumber, cols)
		}
		return err
	case models.ChangeActionUpdate:
		r, err := models.DecodeExisting[models.Route](p)
		if err != nil {
			return err
		}
		cols, err := updateColumns(models.EntityTypeRoute, p.FieldDifferences)
		if err != nil {
			return err
		}
		return a.patch(&models.Route{}, "route_number", r.RouteNumber, cols)
	case models.ChangeActionRemove:
		r, err := models.DecodeExisting[models.Route](p)
		if err != nil {
			return err
		}
		return a.patch(&models.Route{}, "route_number", r.RouteNumber, map[string]any{"is_active": false})
	}
	return fmt.Errorf("unknown action %q", p.Action)
}

func (a *changeApplier) applyItem(p models.ChangeProposal) error {
	switch p.Action {
	case models.ChangeActionCreate:
		item, err := models.DecodeSource[models.Item](p)
		if err != nil {
			return err
		}
		item.ID = 0
		err = a.tx.WithContext(a.ctx).Create(&item).Error
		if err != nil && isUniqueViolation(err) {
			cols, cerr := sourceColumns(models.EntityTypeItem, item)
			if cerr != nil {
				return cerr
			}
			return a.patch(&models.Item{}, "item_number", item.ItemNumber, cols)
		}
		return err
	case models.ChangeActionUpdate:
		cols, err := updateColumns(models.EntityTypeItem, p.FieldDifferences)
		if err != nil {
			return err
		}
		return a.patch(&models.Item{}, "item_number", p.Key, cols)
	}
	return fmt.Errorf("action %q is not supported for items", p.Action)
}

// ApplyInventory inserts the customer item carried by an inventory staged change.
func (a *changeApplier) ApplyInventory(inv models.InventoryChange) error {
	item := inv.Item
	item.ID = 0
	if item.CustomerNumber == 0 {
		item.CustomerNumber = inv.CustomerNumber
	}
	if item.ItemType == "" {
		item.ItemType = models.CustomerItemTypeRental
	}
	if err := a.tx.WithContext(a.ctx).Create(&item).Error; err != nil {
		return &utils.ApplyError{Key: fmt.Sprintf("customer_item:%d:%s", item.CustomerNumber, item.ItemNumber), Err: err}
	}
	changesApplied.WithLabelValues("customer_item", string(models.ChangeActionCreate)).Inc()
	return nil
}
