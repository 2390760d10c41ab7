package rbac

import "sort"

// Resources the console scopes permissions to. Fixed at seed time.
var Resources = []string{"users", "roles", "sessions", "audit"}

// SystemRoleNames is the fixed set of seeded, protected roles.
var SystemRoleNames = []string{"admin", "user", "super admin", "employee"}

// Permission keys used to gate API handlers.
const (
	PermUsersCreate = "users:create"
	PermUsersRead   = "users:read"
	PermUsersUpdate = "users:update"
	PermUsersDelete = "users:delete"

	PermRolesCreate = "roles:create"
	PermRolesRead   = "roles:read"
	PermRolesUpdate = "roles:update"
	PermRolesDelete = "roles:delete"

	PermSessionsRead   = "sessions:read"
	PermSessionsDelete = "sessions:delete"

	PermAuditRead = "audit:read"
)

var actionDescriptions = map[Action]string{
	ActionCreate: "Create",
	ActionRead:   "View",
	ActionUpdate: "Update",
	ActionDelete: "Delete",
	ActionManage: "Full control over",
}

// CRUDActions are the grantable verbs, in matrix column order.
var CRUDActions = []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete}

// Catalog returns the full fixed permission set: every resource crossed with
// the CRUD actions plus the aggregate manage action. IDs are assigned by the
// store at seed time.
func Catalog() []Permission {
	out := make([]Permission, 0, len(Resources)*(len(CRUDActions)+1))
	for _, res := range Resources {
		for _, act := range append(append([]Action{}, CRUDActions...), ActionManage) {
			out = append(out, Permission{
				Resource:    res,
				Action:      act,
				Description: actionDescriptions[act] + " " + res,
			})
		}
	}
	return out
}

// IsSystemRoleName reports whether a name belongs to the seeded system set.
// Only used while seeding; runtime protection checks the persisted flag.
func IsSystemRoleName(name string) bool {
	norm := NormalizeID(name)
	for _, n := range SystemRoleNames {
		if n == norm {
			return true
		}
	}
	return false
}

// Matrix indexes the catalog's CRUD permissions by resource and answers the
// fully/partially-selected questions that drive the console's indeterminate
// checkboxes. Manage permissions are excluded from the per-cell matrix.
type Matrix struct {
	crud map[string][]Permission
}

// NewMatrix builds a Matrix from the catalog listing.
func NewMatrix(perms []Permission) Matrix {
	crud := make(map[string][]Permission)
	for _, p := range perms {
		if p.Action == ActionManage {
			continue
		}
		crud[p.Resource] = append(crud[p.Resource], p)
	}
	return Matrix{crud: crud}
}

// Resources returns the matrix resources in sorted order.
func (m Matrix) Resources() []string {
	out := make([]string, 0, len(m.crud))
	for res := range m.crud {
		out = append(out, res)
	}
	sort.Strings(out)
	return out
}

// CRUD returns the non-manage permissions for a resource.
func (m Matrix) CRUD(resource string) []Permission {
	return m.crud[resource]
}

func (m Matrix) selectedCount(role Role, resource string) (selected, total int) {
	held := role.PermissionIDs()
	for _, p := range m.crud[resource] {
		total++
		if _, ok := held[p.ID]; ok {
			selected++
		}
	}
	return selected, total
}

// FullySelected reports whether the role holds every CRUD permission for the
// resource. Computed fresh from the role's current permission set.
func (m Matrix) FullySelected(role Role, resource string) bool {
	selected, total := m.selectedCount(role, resource)
	return total > 0 && selected == total
}

// PartiallySelected reports whether the role holds some but not all CRUD
// permissions for the resource. Mutually exclusive with FullySelected.
func (m Matrix) PartiallySelected(role Role, resource string) bool {
	selected, total := m.selectedCount(role, resource)
	return selected > 0 && selected < total
}

// GroupByResource orders the grantable permissions for matrix display.
// Manage rows are omitted: they surface only as the aggregate toggle.
func GroupByResource(perms []Permission) map[string][]Permission {
	groups := make(map[string][]Permission)
	for _, p := range perms {
		if p.Action == ActionManage {
			continue
		}
		groups[p.Resource] = append(groups[p.Resource], p)
	}
	return groups
}
