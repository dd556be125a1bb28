package traffic

import "net/url"

// ResolveURL 以 base 解析相对地址；ref 为空返回 base，解析失败原样返回 ref
func ResolveURL(base, ref string) string {
	if ref == "" {
		return base
	}
	b, err := url.Parse(base)
	if err != nil || base == "" {
		return ref
	}
	u, err := b.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}
