package config

import (
	"os"
	"regexp"
)

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv substitutes ${NAME} references in YAML content with values
// from the process environment.
//
// Only the braced form is recognized; a bare $NAME passes through
// untouched, so regex patterns and passwords containing $ survive
// expansion. Missing variables expand to the empty string; validation
// catches required fields that end up empty.
//
// Examples:
//   - ${DEEPSEEK_API_KEY} → value of DEEPSEEK_API_KEY
//   - ${SMTP_USER}@example.com → username with domain appended
//   - price\$[0-9]+ → preserved literally
func ExpandEnv(data []byte) []byte {
	return envRefPattern.ReplaceAllFunc(data, func(ref []byte) []byte {
		name := envRefPattern.FindSubmatch(ref)[1]
		return []byte(os.Getenv(string(name)))
	})
}
