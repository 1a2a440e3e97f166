package provctrl

import (
	"net"
	"net/http"
	"net/netip"
	"path"
	"strings"

	"provision/internal/macaddr"
)

// UserAgent — разобранная строка вида "<vendor> <model> <version> <mac>",
// например "Ale H2P 2.10 3c28a60357a0".
type UserAgent struct {
	Vendor  string
	Model   string
	Version string
	MAC     string // канонический; пусто, если четвёртое поле не MAC
}

func ParseUserAgent(s string) (UserAgent, bool) {
	f := strings.Fields(s)
	if len(f) < 4 {
		return UserAgent{}, false
	}
	ua := UserAgent{Vendor: f[0], Model: f[1], Version: f[2]}
	if mac, ok := macaddr.Canonical(f[3]); ok {
		ua.MAC = mac
	}
	return ua, true
}

const maxFilenameLen = 100

// SanitizeFilename: только базовое имя, символы [A-Za-z0-9._-], не длиннее 100.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > maxFilenameLen {
		out = out[:maxFilenameLen]
	}
	if strings.Trim(out, ".") == "" {
		return ""
	}
	return out
}

// SplitFilename: "aabbcc112233.cfg" → ("aabbcc112233", "cfg").
func SplitFilename(name string) (base, ext string) {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return name, ""
	}
	return name[:i], name[i+1:]
}

// PublicIP — первый публичный адрес из X-Forwarded-For, затем X-Real-IP, затем RemoteAddr.
func PublicIP(r *http.Request) string {
	for _, part := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if ip, ok := parseIP(part); ok && isPublic(ip) {
			return ip.String()
		}
	}
	if ip, ok := parseIP(r.Header.Get("X-Real-IP")); ok {
		return ip.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip, ok := parseIP(host); ok {
		return ip.String()
	}
	return host
}

func parseIP(s string) (netip.Addr, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Addr{}, false
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().Unmap(), true
	}
	ip, err := netip.ParseAddr(strings.Trim(s, "[]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}

func isPublic(ip netip.Addr) bool {
	return ip.IsGlobalUnicast() && !ip.IsPrivate() && !ip.IsLoopback()
}
