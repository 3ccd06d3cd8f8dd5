package action

import (
	"fmt"
	"strconv"
	"strings"
)

// Key is a Linux input key code (KEY_* in <linux/input-event-codes.h>).
type Key uint16

// Key codes used by the text typing table and the control client. Any other
// code can still be recorded and replayed; it just prints numerically.
const (
	KeyEsc        Key = 1
	Key1          Key = 2
	Key2          Key = 3
	Key3          Key = 4
	Key4          Key = 5
	Key5          Key = 6
	Key6          Key = 7
	Key7          Key = 8
	Key8          Key = 9
	Key9          Key = 10
	Key0          Key = 11
	KeyMinus      Key = 12
	KeyEqual      Key = 13
	KeyBackspace  Key = 14
	KeyTab        Key = 15
	KeyQ          Key = 16
	KeyW          Key = 17
	KeyE          Key = 18
	KeyR          Key = 19
	KeyT          Key = 20
	KeyY          Key = 21
	KeyU          Key = 22
	KeyI          Key = 23
	KeyO          Key = 24
	KeyP          Key = 25
	KeyLeftBrace  Key = 26
	KeyRightBrace Key = 27
	KeyEnter      Key = 28
	KeyLeftCtrl   Key = 29
	KeyA          Key = 30
	KeyS          Key = 31
	KeyD          Key = 32
	KeyF          Key = 33
	KeyG          Key = 34
	KeyH          Key = 35
	KeyJ          Key = 36
	KeyK          Key = 37
	KeyL          Key = 38
	KeySemicolon  Key = 39
	KeyApostrophe Key = 40
	KeyGrave      Key = 41
	KeyLeftShift  Key = 42
	KeyBackslash  Key = 43
	KeyZ          Key = 44
	KeyX          Key = 45
	KeyC          Key = 46
	KeyV          Key = 47
	KeyB          Key = 48
	KeyN          Key = 49
	KeyM          Key = 50
	KeyComma      Key = 51
	KeyDot        Key = 52
	KeySlash      Key = 53
	KeyRightShift Key = 54
	KeyLeftAlt    Key = 56
	KeySpace      Key = 57
	KeyCapsLock   Key = 58
	KeyF1         Key = 59
	KeyF2         Key = 60
	KeyF3         Key = 61
	KeyF4         Key = 62
	KeyF5         Key = 63
	KeyF6         Key = 64
	KeyF7         Key = 65
	KeyF8         Key = 66
	KeyF9         Key = 67
	KeyF10        Key = 68
	KeyF11        Key = 87
	KeyF12        Key = 88
	KeyRightCtrl  Key = 97
	KeyRightAlt   Key = 100
	KeyHome       Key = 102
	KeyUp         Key = 103
	KeyPageUp     Key = 104
	KeyLeft       Key = 105
	KeyRight      Key = 106
	KeyEnd        Key = 107
	KeyDown       Key = 108
	KeyPageDown   Key = 109
	KeyInsert     Key = 110
	KeyDelete     Key = 111
	KeyLeftMeta   Key = 125
	KeyRightMeta  Key = 126
)

var keyNames = map[Key]string{
	KeyEsc: "KEY_ESC", Key1: "KEY_1", Key2: "KEY_2", Key3: "KEY_3", Key4: "KEY_4",
	Key5: "KEY_5", Key6: "KEY_6", Key7: "KEY_7", Key8: "KEY_8", Key9: "KEY_9", Key0: "KEY_0",
	KeyMinus: "KEY_MINUS", KeyEqual: "KEY_EQUAL", KeyBackspace: "KEY_BACKSPACE", KeyTab: "KEY_TAB",
	KeyQ: "KEY_Q", KeyW: "KEY_W", KeyE: "KEY_E", KeyR: "KEY_R", KeyT: "KEY_T", KeyY: "KEY_Y",
	KeyU: "KEY_U", KeyI: "KEY_I", KeyO: "KEY_O", KeyP: "KEY_P",
	KeyLeftBrace: "KEY_LEFTBRACE", KeyRightBrace: "KEY_RIGHTBRACE", KeyEnter: "KEY_ENTER",
	KeyLeftCtrl: "KEY_LEFTCTRL",
	KeyA: "KEY_A", KeyS: "KEY_S", KeyD: "KEY_D", KeyF: "KEY_F", KeyG: "KEY_G", KeyH: "KEY_H",
	KeyJ: "KEY_J", KeyK: "KEY_K", KeyL: "KEY_L",
	KeySemicolon: "KEY_SEMICOLON", KeyApostrophe: "KEY_APOSTROPHE", KeyGrave: "KEY_GRAVE",
	KeyLeftShift: "KEY_LEFTSHIFT", KeyBackslash: "KEY_BACKSLASH",
	KeyZ: "KEY_Z", KeyX: "KEY_X", KeyC: "KEY_C", KeyV: "KEY_V", KeyB: "KEY_B", KeyN: "KEY_N", KeyM: "KEY_M",
	KeyComma: "KEY_COMMA", KeyDot: "KEY_DOT", KeySlash: "KEY_SLASH", KeyRightShift: "KEY_RIGHTSHIFT",
	KeyLeftAlt: "KEY_LEFTALT", KeySpace: "KEY_SPACE", KeyCapsLock: "KEY_CAPSLOCK",
	KeyF1: "KEY_F1", KeyF2: "KEY_F2", KeyF3: "KEY_F3", KeyF4: "KEY_F4", KeyF5: "KEY_F5", KeyF6: "KEY_F6",
	KeyF7: "KEY_F7", KeyF8: "KEY_F8", KeyF9: "KEY_F9", KeyF10: "KEY_F10", KeyF11: "KEY_F11", KeyF12: "KEY_F12",
	KeyRightCtrl: "KEY_RIGHTCTRL", KeyRightAlt: "KEY_RIGHTALT",
	KeyHome: "KEY_HOME", KeyUp: "KEY_UP", KeyPageUp: "KEY_PAGEUP", KeyLeft: "KEY_LEFT", KeyRight: "KEY_RIGHT",
	KeyEnd: "KEY_END", KeyDown: "KEY_DOWN", KeyPageDown: "KEY_PAGEDOWN", KeyInsert: "KEY_INSERT",
	KeyDelete: "KEY_DELETE", KeyLeftMeta: "KEY_LEFTMETA", KeyRightMeta: "KEY_RIGHTMETA",
}

var keysByName = func() map[string]Key {
	m := make(map[string]Key, len(keyNames))
	for k, n := range keyNames {
		m[n] = k
	}
	return m
}()

func (k Key) String() string {
	if n, ok := keyNames[k]; ok {
		return n
	}
	return "KEY_" + strconv.Itoa(int(k))
}

func (k Key) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Key) UnmarshalText(b []byte) error {
	parsed, err := ParseKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKey accepts a KEY_* name (the prefix is optional, case is ignored) or
// a decimal key code.
func ParseKey(s string) (Key, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "" {
		return 0, fmt.Errorf("%w: empty key", ErrMalformedAction)
	}
	if !strings.HasPrefix(name, "KEY_") {
		name = "KEY_" + name
	}
	if k, ok := keysByName[name]; ok {
		return k, nil
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(name, "KEY_"), 10, 16)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: unknown key %q", ErrMalformedAction, s)
	}
	return Key(n), nil
}

type keyStroke struct {
	key   Key
	shift bool
}

// US layout.
var runeKeys = func() map[rune]keyStroke {
	m := map[rune]keyStroke{
		' ': {KeySpace, false}, '\n': {KeyEnter, false}, '\t': {KeyTab, false},
		'-': {KeyMinus, false}, '_': {KeyMinus, true},
		'=': {KeyEqual, false}, '+': {KeyEqual, true},
		'[': {KeyLeftBrace, false}, '{': {KeyLeftBrace, true},
		']': {KeyRightBrace, false}, '}': {KeyRightBrace, true},
		';': {KeySemicolon, false}, ':': {KeySemicolon, true},
		'\'': {KeyApostrophe, false}, '"': {KeyApostrophe, true},
		'`': {KeyGrave, false}, '~': {KeyGrave, true},
		'\\': {KeyBackslash, false}, '|': {KeyBackslash, true},
		',': {KeyComma, false}, '<': {KeyComma, true},
		'.': {KeyDot, false}, '>': {KeyDot, true},
		'/': {KeySlash, false}, '?': {KeySlash, true},
	}

	letters := "qwertyuiopasdfghjklzxcvbnm"
	letterKeys := []Key{
		KeyQ, KeyW, KeyE, KeyR, KeyT, KeyY, KeyU, KeyI, KeyO, KeyP,
		KeyA, KeyS, KeyD, KeyF, KeyG, KeyH, KeyJ, KeyK, KeyL,
		KeyZ, KeyX, KeyC, KeyV, KeyB, KeyN, KeyM,
	}
	for i, r := range letters {
		m[r] = keyStroke{letterKeys[i], false}
		m[r-'a'+'A'] = keyStroke{letterKeys[i], true}
	}

	digits := []Key{Key0, Key1, Key2, Key3, Key4, Key5, Key6, Key7, Key8, Key9}
	shifted := ")!@#$%^&*("
	for i, k := range digits {
		m[rune('0'+i)] = keyStroke{k, false}
		m[rune(shifted[i])] = keyStroke{k, true}
	}
	return m
}()

// KeyForRune maps a character to the key that types it on a US layout and
// whether shift must be held.
func KeyForRune(r rune) (key Key, shift bool, ok bool) {
	ks, ok := runeKeys[r]
	return ks.key, ks.shift, ok
}
