package config

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"github.com/mmdatafocus/retail_backend/appctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// ErrCrossTenantWrite is raised when a row is created for a tenant other than
// the one bound to the statement context.
var ErrCrossTenantWrite = errors.New("row belongs to a different tenant")

// TenantGuardPlugin scopes every query, update and delete on a model with a
// business_id column to the business bound to the statement context, and
// stamps or checks business_id on create.
//
// Raw SQL is not covered; those statements must carry business_id themselves.
type TenantGuardPlugin struct{}

func NewTenantGuardPlugin() *TenantGuardPlugin { return &TenantGuardPlugin{} }

func (p *TenantGuardPlugin) Name() string { return "tenant_guard" }

func (p *TenantGuardPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	if err := cb.Create().Before("gorm:create").Register("tenant_guard:create", tenantCreateCallback); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("tenant_guard:query", tenantScopeCallback); err != nil {
		return err
	}
	if err := cb.Row().Before("gorm:row").Register("tenant_guard:row", tenantScopeCallback); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("tenant_guard:update", tenantScopeCallback); err != nil {
		return err
	}
	return cb.Delete().Before("gorm:delete").Register("tenant_guard:delete", tenantScopeCallback)
}

// scopedTenant returns the tenant to enforce and the model's business_id field.
func scopedTenant(db *gorm.DB) (string, *schema.Field, bool) {
	if db == nil || db.Statement == nil || db.Statement.Context == nil || db.Statement.Schema == nil {
		return "", nil, false
	}
	ctx := db.Statement.Context
	if skip, _ := appctx.GetBool(ctx, appctx.ContextKeySkipTenantScope); skip {
		return "", nil, false
	}
	businessID := businessIdFromContext(ctx)
	if businessID == "" {
		return "", nil, false
	}
	field := db.Statement.Schema.LookUpField("business_id")
	if field == nil {
		return "", nil, false
	}
	return businessID, field, true
}

func tenantScopeCallback(db *gorm.DB) {
	businessID, _, ok := scopedTenant(db)
	if !ok {
		return
	}
	if whereHasBusinessID(db.Statement.Clauses["WHERE"]) {
		return
	}
	db.Statement.AddClause(clause.Where{
		Exprs: []clause.Expression{
			clause.Eq{
				Column: clause.Column{Table: db.Statement.Table, Name: "business_id"},
				Value:  businessID,
			},
		},
	})
}

func tenantCreateCallback(db *gorm.DB) {
	businessID, field, ok := scopedTenant(db)
	if !ok {
		return
	}
	ctx := db.Statement.Context
	stamp := func(row reflect.Value) {
		current, zero := field.ValueOf(ctx, row)
		if zero {
			if err := field.Set(ctx, row, businessID); err != nil {
				db.AddError(err)
			}
			return
		}
		if v, _ := current.(string); v != businessID {
			db.AddError(ErrCrossTenantWrite)
		}
	}

	rv := db.Statement.ReflectValue
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			stamp(reflect.Indirect(rv.Index(i)))
		}
	case reflect.Struct:
		stamp(rv)
	}
}

func businessIdFromContext(ctx context.Context) string {
	v, _ := appctx.GetString(ctx, appctx.ContextKeyBusinessId)
	return v
}

func whereHasBusinessID(c clause.Clause) bool {
	w, ok := c.Expression.(clause.Where)
	if !ok {
		return false
	}
	for _, e := range w.Exprs {
		if exprHasBusinessID(e) {
			return true
		}
	}
	return false
}

func exprHasBusinessID(e clause.Expression) bool {
	switch v := e.(type) {
	case clause.Eq:
		return colIsBusinessID(v.Column)
	case clause.IN:
		return colIsBusinessID(v.Column)
	case clause.AndConditions:
		for _, x := range v.Exprs {
			if exprHasBusinessID(x) {
				return true
			}
		}
	case clause.Expr:
		return strings.Contains(strings.ToLower(v.SQL), "business_id")
	case clause.NamedExpr:
		return strings.Contains(strings.ToLower(v.SQL), "business_id")
	}
	return false
}

func colIsBusinessID(col any) bool {
	switch c := col.(type) {
	case string:
		return strings.EqualFold(c, "business_id")
	case clause.Column:
		return strings.EqualFold(c.Name, "business_id")
	}
	return false
}
