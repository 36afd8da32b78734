package input

import (
	"strconv"
	"strings"
)

// Key is a platform-neutral key identifier.
type Key int32

const (
	KeyUnknown Key = 0

	KeyEnter     Key = 10
	KeyBackspace Key = 8
	KeyTab       Key = 9
	KeyEscape    Key = 27
	KeySpace     Key = 32

	ArrowLeft  Key = 37
	ArrowUp    Key = 38
	ArrowRight Key = 39
	ArrowDown  Key = 40

	KeyShift   Key = 16
	KeyControl Key = 17
	KeyAlt     Key = 18

	// Digits and letters use their upper-case ASCII code.
	Key0 Key = '0'
	KeyA Key = 'A'
	KeyZ Key = 'Z'

	KeyF1  Key = 112
	KeyF12 Key = 123
)

var keyNames = map[Key]string{
	KeyEnter:     "enter",
	KeyBackspace: "backspace",
	KeyTab:       "tab",
	KeyEscape:    "escape",
	KeySpace:     "space",
	ArrowLeft:    "left",
	ArrowUp:      "up",
	ArrowRight:   "right",
	ArrowDown:    "down",
	KeyShift:     "shift",
	KeyControl:   "control",
	KeyAlt:       "alt",
}

var keysByName = func() map[string]Key {
	m := make(map[string]Key, len(keyNames)+8)
	for k, n := range keyNames {
		m[n] = k
	}
	// Native aliases.
	m["return"] = KeyEnter
	m["esc"] = KeyEscape
	m["ctrl"] = KeyControl
	m["back_space"] = KeyBackspace
	m["arrowleft"] = ArrowLeft
	m["arrowright"] = ArrowRight
	m["arrowup"] = ArrowUp
	m["arrowdown"] = ArrowDown
	return m
}()

// Name returns the lower-case name of k, as used by scripts.
func (k Key) Name() string {
	if n, ok := keyNames[k]; ok {
		return n
	}
	switch {
	case k >= KeyA && k <= KeyZ:
		return string(rune(k - KeyA + 'a'))
	case k >= Key0 && k <= Key0+9:
		return string(rune(k))
	case k >= KeyF1 && k <= KeyF12:
		return "f" + strconv.Itoa(int(k-KeyF1)+1)
	}
	return ""
}

// KeyFromName translates a native or script key name. Matching ignores case.
func KeyFromName(name string) Key {
	n := strings.ToLower(strings.TrimSpace(name))
	if k, ok := keysByName[n]; ok {
		return k
	}
	if len(n) == 1 {
		c := n[0]
		switch {
		case c >= 'a' && c <= 'z':
			return KeyA + Key(c-'a')
		case c >= '0' && c <= '9':
			return Key0 + Key(c-'0')
		case c == ' ':
			return KeySpace
		}
	}
	if len(n) >= 2 && n[0] == 'f' {
		if v, err := strconv.Atoi(n[1:]); err == nil && v >= 1 && v <= 12 {
			return KeyF1 + Key(v-1)
		}
	}
	return KeyUnknown
}
