package roads

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// RepairName undoes UTF-8 text that was decoded as Windows-1251 somewhere
// upstream. Names that do not round-trip are returned unchanged.
func RepairName(s string) string {
	if s == "" {
		return s
	}
	raw, err := charmap.Windows1251.NewEncoder().String(s)
	if err != nil || !utf8.ValidString(raw) {
		return s
	}
	return raw
}

var cyrillicToLatin = map[rune]string{
	'А': "A", 'Б': "B", 'В': "V", 'Г': "G", 'Д': "D", 'Е': "E", 'Ё': "E", 'Ж': "Zh", 'З': "Z", 'И': "I",
	'Й': "Y", 'К': "K", 'Л': "L", 'М': "M", 'Н': "N", 'О': "O", 'П': "P", 'Р': "R", 'С': "S", 'Т': "T",
	'У': "U", 'Ф': "F", 'Х': "Kh", 'Ц': "Ts", 'Ч': "Ch", 'Ш': "Sh", 'Щ': "Shch", 'Ъ': "", 'Ы': "Y",
	'Ь': "", 'Э': "E", 'Ю': "Yu", 'Я': "Ya",
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "e", 'ж': "zh", 'з': "z", 'и': "i",
	'й': "y", 'к': "k", 'л': "l", 'м': "m", 'н': "n", 'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t",
	'у': "u", 'ф': "f", 'х': "kh", 'ц': "ts", 'ч': "ch", 'ш': "sh", 'щ': "shch", 'ъ': "", 'ы': "y",
	'ь': "", 'э': "e", 'ю': "yu", 'я': "ya",
	// Kazakh letters.
	'Ә': "A", 'ә': "a", 'Ғ': "G", 'ғ': "g", 'Қ': "Q", 'қ': "q", 'Ң': "N", 'ң': "n",
	'Ө': "O", 'ө': "o", 'Ұ': "U", 'ұ': "u", 'Ү': "U", 'ү': "u", 'Һ': "H", 'һ': "h", 'І': "I", 'і': "i",
}

// Transliterate maps Cyrillic and Kazakh letters to Latin and leaves every
// other rune untouched.
func Transliterate(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if latin, ok := cyrillicToLatin[r]; ok {
			b.WriteString(latin)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SafeName turns a road name into a file-name fragment.
func SafeName(name string) string {
	out := Transliterate(strings.TrimSpace(name))
	out = strings.Map(func(r rune) rune {
		switch r {
		case ' ':
			return '_'
		case '/':
			return '-'
		case '\\', ':', '*', '?', '"', '<', '>', '|':
			return -1
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, out)
	if out == "" {
		return "road"
	}
	return out
}
