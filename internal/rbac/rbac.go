// Package rbac 定义角色到权限的静态映射以及稿件归属判断。
package rbac

import (
	"strings"

	"newsdesk/internal/apperr"
)

// Role 是用户在编辑部中的角色。
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleEditor Role = "EDITOR"
	RoleAuthor Role = "AUTHOR"
)

// Permission 是一个可检查的操作权限。
type Permission string

const (
	CreateArticle    Permission = "CREATE_ARTICLE"
	UpdateOwnArticle Permission = "UPDATE_OWN_ARTICLE"
	UpdateAnyArticle Permission = "UPDATE_ANY_ARTICLE"
	DeleteOwnArticle Permission = "DELETE_OWN_ARTICLE"
	DeleteAnyArticle Permission = "DELETE_ANY_ARTICLE"
	PublishArticle   Permission = "PUBLISH_ARTICLE"
	ReviewArticles   Permission = "REVIEW_ARTICLES"
	FeatureArticle   Permission = "FEATURE_ARTICLE"
	ManageCategories Permission = "MANAGE_CATEGORIES"
	ManageUsers      Permission = "MANAGE_USERS"
	ManageSettings   Permission = "MANAGE_SETTINGS"
	ManageMedia      Permission = "MANAGE_MEDIA"
	ViewVariants     Permission = "VIEW_VARIANTS"
)

// AllPermissions 按固定顺序列出全部权限。
var AllPermissions = []Permission{
	CreateArticle,
	UpdateOwnArticle,
	UpdateAnyArticle,
	DeleteOwnArticle,
	DeleteAnyArticle,
	PublishArticle,
	ReviewArticles,
	FeatureArticle,
	ManageCategories,
	ManageUsers,
	ManageSettings,
	ManageMedia,
	ViewVariants,
}

// Roles 列出全部角色。
var Roles = []Role{RoleAdmin, RoleEditor, RoleAuthor}

var rolePermissions = map[Role]map[Permission]struct{}{
	RoleAdmin: setOf(AllPermissions...),
	RoleEditor: setOf(
		CreateArticle,
		UpdateOwnArticle,
		UpdateAnyArticle,
		DeleteOwnArticle,
		PublishArticle,
		ReviewArticles,
		FeatureArticle,
		ManageCategories,
		ManageMedia,
		ViewVariants,
	),
	RoleAuthor: setOf(
		CreateArticle,
		UpdateOwnArticle,
		DeleteOwnArticle,
		ViewVariants,
	),
}

func setOf(perms ...Permission) map[Permission]struct{} {
	set := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// ParseRole 不区分大小写地解析角色名。
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := rolePermissions[role]; !ok {
		return "", apperr.Validation("unknown role: %q", raw)
	}
	return role, nil
}

// ParsePermission 不区分大小写地解析权限名。
func ParsePermission(raw string) (Permission, error) {
	p := Permission(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := rolePermissions[RoleAdmin][p]; !ok {
		return "", apperr.Validation("unknown permission: %q", raw)
	}
	return p, nil
}

// HasPermission 报告角色是否拥有该权限。未知角色没有任何权限。
func HasPermission(role Role, perm Permission) bool {
	_, ok := rolePermissions[role][perm]
	return ok
}

// HasAnyPermission 只要拥有其中一个权限即为 true，空列表为 false。
func HasAnyPermission(role Role, perms ...Permission) bool {
	for _, p := range perms {
		if HasPermission(role, p) {
			return true
		}
	}
	return false
}

// HasAllPermissions 拥有全部权限时为 true，空列表为 true。
func HasAllPermissions(role Role, perms ...Permission) bool {
	for _, p := range perms {
		if !HasPermission(role, p) {
			return false
		}
	}
	return true
}

// PermissionsFor 按 AllPermissions 的顺序返回角色的权限列表。
func PermissionsFor(role Role) []Permission {
	out := make([]Permission, 0, len(rolePermissions[role]))
	for _, p := range AllPermissions {
		if HasPermission(role, p) {
			out = append(out, p)
		}
	}
	return out
}
