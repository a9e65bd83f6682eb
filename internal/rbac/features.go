package rbac

// QuickAction 是仪表盘上按角色推荐的快捷入口。
type QuickAction struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Href  string `json:"href"`
}

// Features 是由权限推导出的功能可见性。
type Features struct {
	CanCreateArticles   bool          `json:"canCreateArticles"`
	CanEditAnyArticle   bool          `json:"canEditAnyArticle"`
	CanDeleteAnyArticle bool          `json:"canDeleteAnyArticle"`
	CanPublish          bool          `json:"canPublish"`
	CanReview           bool          `json:"canReview"`
	CanFeature          bool          `json:"canFeature"`
	CanViewVariants     bool          `json:"canViewVariants"`
	CanViewReviewQueue  bool          `json:"canViewReviewQueue"`
	CanManageCategories bool          `json:"canManageCategories"`
	CanManageUsers      bool          `json:"canManageUsers"`
	CanManageSettings   bool          `json:"canManageSettings"`
	CanManageMedia      bool          `json:"canManageMedia"`
	CanUploadMedia      bool          `json:"canUploadMedia"`
	CanViewAdminPanel   bool          `json:"canViewAdminPanel"`
	QuickActions        []QuickAction `json:"quickActions"`
}

var quickActions = map[Role][]QuickAction{
	RoleAdmin: {
		{ID: "new-article", Label: "Write article", Href: "/articles/new"},
		{ID: "manage-users", Label: "Manage users", Href: "/admin/users"},
		{ID: "site-settings", Label: "Site settings", Href: "/admin/settings"},
		{ID: "media-library", Label: "Media library", Href: "/media"},
	},
	RoleEditor: {
		{ID: "review-queue", Label: "Review queue", Href: "/articles?status=REVIEW"},
		{ID: "new-article", Label: "Write article", Href: "/articles/new"},
		{ID: "categories", Label: "Categories", Href: "/categories"},
		{ID: "media-library", Label: "Media library", Href: "/media"},
	},
	RoleAuthor: {
		{ID: "new-article", Label: "Write article", Href: "/articles/new"},
		{ID: "my-drafts", Label: "My drafts", Href: "/articles?status=DRAFT&mine=true"},
		{ID: "submitted", Label: "Awaiting review", Href: "/articles?status=REVIEW&mine=true"},
	},
}

// AccessibleFeatures 组合权限检查结果，并附上角色固定的快捷入口。
func AccessibleFeatures(role Role) Features {
	actions := append([]QuickAction(nil), quickActions[role]...)
	if actions == nil {
		actions = []QuickAction{}
	}
	return Features{
		CanCreateArticles:   HasPermission(role, CreateArticle),
		CanEditAnyArticle:   HasPermission(role, UpdateAnyArticle),
		CanDeleteAnyArticle: HasPermission(role, DeleteAnyArticle),
		CanPublish:          HasPermission(role, PublishArticle),
		CanReview:           HasPermission(role, ReviewArticles),
		CanFeature:          HasPermission(role, FeatureArticle),
		CanViewVariants:     HasPermission(role, ViewVariants),
		CanViewReviewQueue:  HasAnyPermission(role, ReviewArticles, PublishArticle),
		CanManageCategories: HasPermission(role, ManageCategories),
		CanManageUsers:      HasPermission(role, ManageUsers),
		CanManageSettings:   HasPermission(role, ManageSettings),
		CanManageMedia:      HasPermission(role, ManageMedia),
		CanUploadMedia:      CanUploadMedia(role),
		CanViewAdminPanel:   HasAnyPermission(role, ManageUsers, ManageSettings),
		QuickActions:        actions,
	}
}

// CanUploadMedia 作者上传稿件配图不需要媒体库管理权限。
func CanUploadMedia(role Role) bool {
	return HasAnyPermission(role, ManageMedia, CreateArticle)
}
