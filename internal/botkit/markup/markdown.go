package markup

import "strings"

// Спец символы MarkdownV2, которые телеграм требует экранировать в тексте
const specialChars = "-_*[]()~`>#+=|{}.!"

var replacer = newEscaper()

func newEscaper() *strings.Replacer {
	pairs := make([]string, 0, len(specialChars)*2)
	for _, c := range specialChars {
		pairs = append(pairs, string(c), `\`+string(c))
	}
	return strings.NewReplacer(pairs...)
}

// Экранирует спец символы markdown специально для телеграма
func EscapeForMarkdown(src string) string {
	return replacer.Replace(src)
}
