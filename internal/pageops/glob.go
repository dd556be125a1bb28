package pageops

import (
	"net/url"
	"regexp"
	"strings"
)

// GlobToRegexp 将地址通配转换为锚定正则：* 匹配单个路径段内字符，** 跨段，? 匹配单个非 / 字符
func GlobToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// MatchGlob 判断 target 是否匹配 pattern
func MatchGlob(pattern, target string) bool {
	re, err := GlobToRegexp(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(target)
}

// matchLocation 绝对 pattern 对比完整地址，否则依次尝试 path 与 path?query
func matchLocation(re *regexp.Regexp, pattern, href string) bool {
	if strings.Contains(pattern, "://") {
		return re.MatchString(href)
	}
	u, err := url.Parse(href)
	if err != nil {
		return re.MatchString(href)
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if re.MatchString(path) {
		return true
	}
	return u.RawQuery != "" && re.MatchString(path+"?"+u.RawQuery)
}
