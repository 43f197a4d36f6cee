// Package guard はロールに基づくビューへのアクセス判定を行う。
package guard

import (
	"github.com/hitoshi/academy/internal/model"
	"github.com/hitoshi/academy/internal/session"
)

// Decision はアクセス判定の結果。
type Decision int

const (
	// Loading は認証状態またはプロフィールが確定していないことを示す。リダイレクトしてはならない。
	Loading Decision = iota
	Allow
	RedirectLogin
	RedirectUnauthorized
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case RedirectLogin:
		return "redirect_login"
	case RedirectUnauthorized:
		return "redirect_unauthorized"
	default:
		return "loading"
	}
}

// リダイレクト先
const (
	LoginPath        = "/login"
	UnauthorizedPath = "/unauthorized"
)

// Evaluate はrequiredロールのビューへのアクセスを判定する。adminは全ビューにアクセスできる。
func Evaluate(required model.Role, snap session.Snapshot) Decision {
	if !snap.Settled() {
		return Loading
	}
	if snap.User == nil {
		return RedirectLogin
	}
	if snap.Profile == nil {
		return RedirectUnauthorized
	}
	if snap.Profile.Role == required || snap.Profile.Role == model.RoleAdmin {
		return Allow
	}
	return RedirectUnauthorized
}
