package proxies

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/zeusync/entsim/internal/core/fault"
)

var verbs = []string{"Get", "Set", "Add", "Remove", "Has", "Is"}

// AttributeName derives the attribute name a method is bound to: a leading
// verb followed by an upper-case letter is stripped, then the first rune is
// lower-cased. GetSpeed and SetSpeed both map to "speed".
func AttributeName(method string) (string, error) {
	name := method
	for _, verb := range verbs {
		rest, ok := strings.CutPrefix(name, verb)
		if !ok {
			continue
		}
		if r, _ := utf8.DecodeRuneInString(rest); unicode.IsUpper(r) {
			name = rest
			break
		}
	}
	if name == "" {
		return "", fault.New(fault.InvalidAttributeTypeDeclaration, "method", method, "reason", "no attribute name")
	}
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToLower(r)) + name[size:], nil
}
