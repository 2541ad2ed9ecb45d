package flow

import (
	"strings"
	"unicode"
)

var greetingWords = map[string]bool{
	"hi": true, "hello": true, "hey": true, "howdy": true, "greetings": true, "welcome": true,
	"hola": true, "bienvenido": true, "bienvenida": true, "bienvenidos": true, "saludos": true,
	"oi": true, "olá": true, "ola": true, "bem-vindo": true, "bem-vinda": true,
}

var greetingPhrases = []string{
	"good morning", "good afternoon", "good evening",
	"buenos dias", "buenos días", "buenas tardes", "buenas noches",
	"bom dia", "boa tarde", "boa noite", "bem vindo", "bem vinda",
}

// LooksLikeGreeting reports whether text opens a conversation politely.
// Matching is by whole word so "this" does not count as "hi".
func LooksLikeGreeting(text string) bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	for _, w := range words {
		if greetingWords[strings.Trim(w, "-")] {
			return true
		}
	}
	joined := " " + strings.Join(words, " ") + " "
	joined = strings.ReplaceAll(joined, "-", " ")
	for _, p := range greetingPhrases {
		if strings.Contains(joined, " "+p+" ") {
			return true
		}
	}
	return false
}
