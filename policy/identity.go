package policy

import (
	"context"
	"sort"

	"github.com/mmdatafocus/retail_backend/appctx"
	"github.com/mmdatafocus/retail_backend/utils"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Identity is the caller of a ledger operation. It is passed explicitly to
// every operation; nothing reads a "current user" from shared state.
type Identity struct {
	BusinessId string
	UserId     int
	UserName   string
	Role       Role
	Grants     map[Capability]bool
}

// NewIdentity builds an identity from session claims; unknown grant names are kept.
func NewIdentity(businessId string, userId int, userName string, role Role, grants ...string) Identity {
	id := Identity{
		BusinessId: businessId,
		UserId:     userId,
		UserName:   userName,
		Role:       role,
		Grants:     make(map[Capability]bool, len(grants)),
	}
	for _, g := range grants {
		id.Grants[Capability(g)] = true
	}
	return id
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Validate rejects identities that cannot own a write.
func (i Identity) Validate() error {
	if i.BusinessId == "" {
		return utils.NewPermissionDenied("NO_TENANT", "a business is required")
	}
	if i.UserId <= 0 {
		return utils.NewPermissionDenied("NO_USER", "a user is required")
	}
	return nil
}

// GrantList returns the explicit grants, sorted.
func (i Identity) GrantList() []string {
	out := make([]string, 0, len(i.Grants))
	for c, ok := range i.Grants {
		if ok {
			out = append(out, string(c))
		}
	}
	sort.Strings(out)
	return out
}

// WithIdentity stores the identity resolved by the session middleware.
// Handlers read it back once and pass it on as an argument.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyIdentity, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(appctx.ContextKeyIdentity).(Identity)
	return v, ok
}
