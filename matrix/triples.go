package matrix

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cemconv/cemrelease/types"
)

// supported is the set of triples with a known toolchain. Their OS family
// is inferred from the triple.
var supported = map[string]bool{
	// linux
	"aarch64-unknown-linux-gnu":       true,
	"aarch64-unknown-linux-musl":      true,
	"arm-unknown-linux-gnueabi":       true,
	"arm-unknown-linux-gnueabihf":     true,
	"armv7-unknown-linux-gnueabihf":   true,
	"armv7-unknown-linux-musleabihf":  true,
	"i586-unknown-linux-gnu":          true,
	"i686-unknown-linux-gnu":          true,
	"i686-unknown-linux-musl":         true,
	"mips-unknown-linux-gnu":          true,
	"mips64-unknown-linux-gnuabi64":   true,
	"mips64el-unknown-linux-gnuabi64": true,
	"mipsel-unknown-linux-gnu":        true,
	"powerpc-unknown-linux-gnu":       true,
	"powerpc64-unknown-linux-gnu":     true,
	"powerpc64le-unknown-linux-gnu":   true,
	"riscv64gc-unknown-linux-gnu":     true,
	"s390x-unknown-linux-gnu":         true,
	"sparc64-unknown-linux-gnu":       true,
	"x86_64-unknown-linux-gnu":        true,
	"x86_64-unknown-linux-musl":       true,
	"arm-linux-androideabi":           true,
	"aarch64-linux-android":           true,
	"x86_64-linux-android":            true,

	// macos
	"i686-apple-darwin":    true,
	"x86_64-apple-darwin":  true,
	"aarch64-apple-darwin": true,

	// windows
	"i686-pc-windows-gnu":     true,
	"i686-pc-windows-msvc":    true,
	"x86_64-pc-windows-gnu":   true,
	"x86_64-pc-windows-msvc":  true,
	"aarch64-pc-windows-msvc": true,

	// bsd
	"i686-unknown-freebsd":     true,
	"x86_64-unknown-freebsd":   true,
	"x86_64-unknown-netbsd":    true,
	"x86_64-unknown-openbsd":   true,
	"x86_64-unknown-dragonfly": true,
}

// Lookup reports the OS family of a supported triple.
// ok is false when no toolchain is known for the triple.
func Lookup(triple string) (types.OSFamily, bool) {
	if !supported[triple] {
		return "", false
	}
	family, err := InferOS(triple)
	if err != nil {
		return "", false
	}
	return family, true
}

// Supported returns all supported triples, sorted.
func Supported() []string {
	out := make([]string, 0, len(supported))
	for t := range supported {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// InferOS derives the OS family from the system component of a triple.
// It does not consult the supported table; entries without an OS override
// get this family.
func InferOS(triple string) (types.OSFamily, error) {
	parts := strings.Split(triple, "-")
	if len(parts) < 2 {
		return "", fmt.Errorf("malformed triple %q", triple)
	}
	for _, p := range parts[1:] {
		switch {
		case p == "windows":
			return types.OSWindows, nil
		case p == "darwin" || p == "apple":
			return types.OSMacOS, nil
		case p == "linux":
			return types.OSLinux, nil
		case strings.HasSuffix(p, "bsd") || p == "dragonfly":
			return types.OSBSD, nil
		}
	}
	return "", fmt.Errorf("cannot infer os family from triple %q", triple)
}
