// Package curriculum は研修カリキュラムのモジュール一覧を提供する。
package curriculum

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/goccy/go-yaml"

	"github.com/hitoshi/academy/internal/model"
)

//go:embed curriculum.yaml
var defaultYAML []byte

// OrientationModule はフェーズ1最初のモジュール名。
const OrientationModule = "Orientation"

// Curriculum は (phase, module) の順序付き一覧。
type Curriculum struct {
	keys []model.ModuleKey
}

type document struct {
	Phases []struct {
		Name    model.Phase `yaml:"name"`
		Modules []string    `yaml:"modules"`
	} `yaml:"phases"`
}

// Parse はYAML定義からCurriculumを組み立てる。
func Parse(data []byte) (*Curriculum, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse curriculum: %w", err)
	}

	seen := make(map[model.ModuleKey]bool)
	c := &Curriculum{}
	for _, p := range doc.Phases {
		if p.Name == "" {
			return nil, fmt.Errorf("curriculum phase without name")
		}
		for _, m := range p.Modules {
			k := model.ModuleKey{Phase: p.Name, Module: m}
			if seen[k] {
				return nil, fmt.Errorf("duplicate module %q in %s", m, p.Name)
			}
			seen[k] = true
			c.keys = append(c.keys, k)
		}
	}
	if len(c.keys) == 0 {
		return nil, fmt.Errorf("curriculum has no modules")
	}
	return c, nil
}

var (
	defaultOnce sync.Once
	defaultCurr *Curriculum
)

// Default は埋め込み定義のCurriculumを返す。
func Default() *Curriculum {
	defaultOnce.Do(func() {
		c, err := Parse(defaultYAML)
		if err != nil {
			panic(err)
		}
		defaultCurr = c
	})
	return defaultCurr
}

// All は全モジュールキーを定義順に返す。
func (c *Curriculum) All() []model.ModuleKey {
	return append([]model.ModuleKey(nil), c.keys...)
}

// Phase は指定フェーズのモジュールキーを定義順に返す。
func (c *Curriculum) Phase(phase model.Phase) []model.ModuleKey {
	var keys []model.ModuleKey
	for _, k := range c.keys {
		if k.Phase == phase {
			keys = append(keys, k)
		}
	}
	return keys
}

// Contains はキーがカリキュラムに含まれるかを返す。
func (c *Curriculum) Contains(k model.ModuleKey) bool {
	for _, ck := range c.keys {
		if ck == k {
			return true
		}
	}
	return false
}
