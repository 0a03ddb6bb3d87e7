package dbconn

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Compatibility 源库与目标库的版本比较结果
type Compatibility struct {
	Source       *semver.Version
	Target       *semver.Version
	SourceFlavor string // "mysql" 或 "mariadb"
	TargetFlavor string
	TargetOlder  bool
	Mismatch     bool // 两端产品不一致
}

// Warnings 返回需要提示给用户的问题
func (c Compatibility) Warnings() []string {
	var w []string
	if c.Mismatch {
		w = append(w, fmt.Sprintf("source is %s but target is %s, DDL may not replay cleanly", c.SourceFlavor, c.TargetFlavor))
	}
	if c.TargetOlder {
		w = append(w, fmt.Sprintf("target server %s is older than source server %s", c.Target, c.Source))
	}
	return w
}

// ParseServerVersion 解析 SELECT VERSION() 的返回值
// 形如 8.0.34-0ubuntu0.22.04.1、10.11.6-MariaDB-1:10.11.6+maria~ubu2204
func ParseServerVersion(raw string) (*semver.Version, string, error) {
	flavor := "mysql"
	if strings.Contains(strings.ToLower(raw), "mariadb") {
		flavor = "mariadb"
	}
	core := raw
	if i := strings.IndexAny(core, "-+ "); i >= 0 {
		core = core[:i]
	}
	v, err := semver.NewVersion(core)
	if err != nil {
		return nil, flavor, fmt.Errorf("parse server version %q: %w", raw, err)
	}
	return v, flavor, nil
}

// CheckCompatibility 比较两端服务器版本
func CheckCompatibility(sourceVersion, targetVersion string) (Compatibility, error) {
	src, srcFlavor, err := ParseServerVersion(sourceVersion)
	if err != nil {
		return Compatibility{}, err
	}
	dst, dstFlavor, err := ParseServerVersion(targetVersion)
	if err != nil {
		return Compatibility{}, err
	}
	c := Compatibility{
		Source:       src,
		Target:       dst,
		SourceFlavor: srcFlavor,
		TargetFlavor: dstFlavor,
		Mismatch:     srcFlavor != dstFlavor,
	}
	if !c.Mismatch {
		c.TargetOlder = dst.LessThan(src)
	}
	return c, nil
}
