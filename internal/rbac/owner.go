package rbac

import "strings"

// Actor 是经过鉴权的调用方。
type Actor struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  Role   `json:"role"`
}

// OwnerRef 是稿件作者的规范引用，创建稿件时从身份源写入 ID。
// 历史数据可能只有邮箱或显示名。
type OwnerRef struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Legacy 报告该引用是否缺少规范 ID。
func (o OwnerRef) Legacy() bool {
	return strings.TrimSpace(o.ID) == ""
}

// IsOwner 有 ID 时只比较 ID；缺少 ID 的历史数据依次比较邮箱和显示名，均不区分大小写。
func IsOwner(actor Actor, owner OwnerRef) bool {
	if !owner.Legacy() {
		return sameIdentity(actor.ID, owner.ID)
	}
	if sameIdentity(actor.Email, owner.Email) {
		return true
	}
	return sameIdentity(actor.Name, owner.Name)
}

func sameIdentity(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}
