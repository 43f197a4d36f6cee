// Package masquerade は管理者が他ユーザーとして閲覧するための「なりすまし」状態を扱う。
// 状態はタブ単位のストレージにのみ保存され、同じブラウザの他タブには波及しない。
package masquerade

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// TargetType はなりすまし対象の種別。
type TargetType string

const (
	TargetApprentice TargetType = "apprentice"
	TargetProfessor  TargetType = "professor"
)

// Valid は既知の種別かを返す。
func (t TargetType) Valid() bool {
	return t == TargetApprentice || t == TargetProfessor
}

// タブストレージのキー
const (
	keyActive         = "masquerade_active"
	keyAdminEmail     = "masquerade_admin_email"
	keyTargetEmail    = "masquerade_email"
	keyTargetName     = "masquerade_name"
	keyTargetType     = "masquerade_type"
	keyDashboardToken = "masquerade_dashboard_token"
)

var storageKeys = []string{
	keyActive, keyAdminEmail, keyTargetEmail, keyTargetName, keyTargetType, keyDashboardToken,
}

// URLクエリパラメータ名
const (
	paramActive      = "masquerade"
	paramAdminEmail  = "adminEmail"
	paramTargetEmail = "masqueradeEmail"
	paramTargetName  = "masqueradeName"
	paramTargetType  = "masqueradeType"
)

var urlParams = []string{paramActive, paramAdminEmail, paramTargetEmail, paramTargetName, paramTargetType}

// FallbackPath はタブを閉じられなかった場合の遷移先。
const FallbackPath = "/admin"

// DefaultFallbackDelay はタブを閉じる試行から遷移までの待ち時間。
const DefaultFallbackDelay = 100 * time.Millisecond

// Context はなりすましの状態。
type Context struct {
	Active               bool       `json:"active"`
	OriginalAdminEmail   string     `json:"originalAdminEmail,omitempty"`
	TargetEmail          string     `json:"targetEmail,omitempty"`
	TargetName           string     `json:"targetName,omitempty"`
	TargetType           TargetType `json:"targetType,omitempty"`
	TargetDashboardToken string     `json:"targetDashboardToken,omitempty"`
}

// Storage はタブ単位のキー・値ストレージ。
type Storage interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Remove(key string)
}

// TargetURL はなりすまし対象のビューのパスとクエリを組み立てる。
func TargetURL(c Context) string {
	path := "/professor"
	if c.TargetType == TargetApprentice {
		path = "/dashboard/" + url.PathEscape(c.TargetDashboardToken)
	}
	q := url.Values{}
	q.Set(paramActive, "true")
	q.Set(paramAdminEmail, c.OriginalAdminEmail)
	q.Set(paramTargetEmail, c.TargetEmail)
	q.Set(paramTargetName, c.TargetName)
	q.Set(paramTargetType, string(c.TargetType))
	return path + "?" + q.Encode()
}

// Initiate は現在のタブのストレージになりすまし状態を書き込み、対象ビューのURLを返す。
func Initiate(s Storage, c Context) string {
	c.Active = true
	write(s, c)
	return TargetURL(c)
}

// Adopt はURLのクエリにあるなりすましパラメータをタブのストレージに取り込む。
// 戻り値のURLからは取り込んだパラメータだけが取り除かれる。
// パラメータがなければストレージを変更せず、adoptedはfalse。
func Adopt(s Storage, rawURL string) (c Context, cleanURL string, adopted bool, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Context{}, "", false, fmt.Errorf("failed to parse url: %w", err)
	}
	q := u.Query()
	if q.Get(paramActive) != "true" {
		return Load(s), rawURL, false, nil
	}

	c = Context{
		Active:             true,
		OriginalAdminEmail: q.Get(paramAdminEmail),
		TargetEmail:        q.Get(paramTargetEmail),
		TargetName:         q.Get(paramTargetName),
		TargetType:         TargetType(q.Get(paramTargetType)),
	}
	if c.TargetType == TargetApprentice {
		if token, ok := strings.CutPrefix(u.Path, "/dashboard/"); ok {
			c.TargetDashboardToken = strings.Trim(token, "/")
		}
	}
	write(s, c)

	for _, p := range urlParams {
		q.Del(p)
	}
	u.RawQuery = q.Encode()
	return c, u.String(), true, nil
}

// Load はタブのストレージからなりすまし状態を読み出す。
func Load(s Storage) Context {
	active, _ := s.Get(keyActive)
	if active != "true" {
		return Context{}
	}
	c := Context{Active: true}
	c.OriginalAdminEmail, _ = s.Get(keyAdminEmail)
	c.TargetEmail, _ = s.Get(keyTargetEmail)
	c.TargetName, _ = s.Get(keyTargetName)
	t, _ := s.Get(keyTargetType)
	c.TargetType = TargetType(t)
	c.TargetDashboardToken, _ = s.Get(keyDashboardToken)
	return c
}

// Banner はなりすまし中に表示するバナー文言を返す。非アクティブなら空文字。
func Banner(c Context) string {
	if !c.Active {
		return ""
	}
	kind := cases.Title(language.English).String(string(c.TargetType))
	return fmt.Sprintf("Viewing as %s: %s (%s)", kind, c.TargetName, c.TargetEmail)
}

// EndResult はなりすまし終了後にタブが取るべき動作。
type EndResult struct {
	CloseTab      bool          `json:"closeTab"`
	FallbackPath  string        `json:"fallbackPath"`
	FallbackDelay time.Duration `json:"-"`
}

// End はタブのストレージからなりすまし状態を全て消去する。
func End(s Storage) EndResult {
	for _, k := range storageKeys {
		s.Remove(k)
	}
	return EndResult{
		CloseTab:      true,
		FallbackPath:  FallbackPath,
		FallbackDelay: DefaultFallbackDelay,
	}
}

func write(s Storage, c Context) {
	s.Set(keyActive, "true")
	s.Set(keyAdminEmail, c.OriginalAdminEmail)
	s.Set(keyTargetEmail, c.TargetEmail)
	s.Set(keyTargetName, c.TargetName)
	s.Set(keyTargetType, string(c.TargetType))
	if c.TargetDashboardToken != "" {
		s.Set(keyDashboardToken, c.TargetDashboardToken)
	} else {
		s.Remove(keyDashboardToken)
	}
}
