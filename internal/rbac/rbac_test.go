package rbac

import (
	"testing"

	"newsdesk/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminHasEveryPermission(t *testing.T) {
	for _, p := range AllPermissions {
		assert.True(t, HasPermission(RoleAdmin, p), p)
	}
	assert.Equal(t, AllPermissions, PermissionsFor(RoleAdmin))
}

func TestRoleSubsets(t *testing.T) {
	for _, role := range []Role{RoleEditor, RoleAuthor} {
		for _, p := range PermissionsFor(role) {
			assert.True(t, HasPermission(RoleAdmin, p), "%s/%s", role, p)
		}
	}
	for _, p := range PermissionsFor(RoleAuthor) {
		assert.True(t, HasPermission(RoleEditor, p), p)
	}
}

func TestHasPermission(t *testing.T) {
	assert.False(t, HasPermission(RoleAuthor, ManageUsers))
	assert.False(t, HasPermission(RoleAuthor, PublishArticle))
	assert.False(t, HasPermission(RoleAuthor, ReviewArticles))
	assert.True(t, HasPermission(RoleAuthor, UpdateOwnArticle))
	assert.True(t, HasPermission(RoleEditor, ReviewArticles))
	assert.False(t, HasPermission(RoleEditor, ManageUsers))
	assert.False(t, HasPermission(Role("GUEST"), CreateArticle))
}

func TestHasAnyAndAll(t *testing.T) {
	assert.True(t, HasAnyPermission(RoleAuthor, ManageUsers, CreateArticle))
	assert.False(t, HasAnyPermission(RoleAuthor, ManageUsers, PublishArticle))
	assert.False(t, HasAnyPermission(RoleAdmin))

	assert.True(t, HasAllPermissions(RoleEditor, PublishArticle, ReviewArticles))
	assert.False(t, HasAllPermissions(RoleEditor, PublishArticle, ManageSettings))
	assert.True(t, HasAllPermissions(RoleAuthor))
}

func TestParseRoleAndPermission(t *testing.T) {
	role, err := ParseRole(" editor ")
	require.NoError(t, err)
	assert.Equal(t, RoleEditor, role)

	_, err = ParseRole("intern")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	p, err := ParsePermission("review_articles")
	require.NoError(t, err)
	assert.Equal(t, ReviewArticles, p)

	_, err = ParsePermission("APPROVE_ARTICLES")
	assert.Error(t, err)
}

func TestAccessibleFeatures(t *testing.T) {
	admin := AccessibleFeatures(RoleAdmin)
	assert.True(t, admin.CanManageUsers)
	assert.True(t, admin.CanViewAdminPanel)
	assert.True(t, admin.CanPublish)

	editor := AccessibleFeatures(RoleEditor)
	assert.True(t, editor.CanReview)
	assert.True(t, editor.CanViewReviewQueue)
	assert.False(t, editor.CanViewAdminPanel)
	assert.Equal(t, "review-queue", editor.QuickActions[0].ID)

	author := AccessibleFeatures(RoleAuthor)
	assert.False(t, author.CanPublish)
	assert.False(t, author.CanManageMedia)
	assert.True(t, author.CanUploadMedia)
	assert.True(t, author.CanCreateArticles)

	assert.NotEqual(t, admin.QuickActions, editor.QuickActions)
	assert.NotEqual(t, editor.QuickActions, author.QuickActions)

	unknown := AccessibleFeatures(Role("GUEST"))
	assert.False(t, unknown.CanCreateArticles)
	assert.NotNil(t, unknown.QuickActions)
	assert.Empty(t, unknown.QuickActions)
}

func TestAccessibleFeatures_ReturnsCopy(t *testing.T) {
	f := AccessibleFeatures(RoleAuthor)
	f.QuickActions[0].Label = "changed"
	assert.Equal(t, "Write article", AccessibleFeatures(RoleAuthor).QuickActions[0].Label)
}

func TestIsOwner(t *testing.T) {
	actor := Actor{ID: "u-1", Email: "Ana@News.example", Name: "Ana Lima", Role: RoleAuthor}

	assert.True(t, IsOwner(actor, OwnerRef{ID: "U-1"}))
	assert.False(t, IsOwner(actor, OwnerRef{ID: "u-2", Email: "ana@news.example"}), "canonical id wins over email")

	assert.True(t, IsOwner(actor, OwnerRef{Email: "ana@news.example"}))
	assert.True(t, IsOwner(actor, OwnerRef{Name: " ana lima "}))
	assert.False(t, IsOwner(actor, OwnerRef{Email: "bob@news.example", Name: "Bob"}))
	assert.False(t, IsOwner(Actor{ID: "u-1"}, OwnerRef{}))
	assert.False(t, IsOwner(Actor{}, OwnerRef{Name: ""}))
}
