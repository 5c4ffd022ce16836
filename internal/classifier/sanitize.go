package classifier

import (
	"errors"
	"regexp"
	"strings"
)

// ErrMalformed reports model output that is empty once its wrappers are removed.
var ErrMalformed = errors.New("malformed model output")

const endThink = "</think>"

var fence = regexp.MustCompile("(?s)^`{3,}[a-zA-Z]*\\s*(.*?)\\s*`{3,}")

// Sanitize strips the wrappers chat models put around their answer: a
// reasoning block closed by </think> and a Markdown code fence, optionally
// tagged json.
func Sanitize(raw string) (string, error) {
	out := raw
	if i := strings.LastIndex(out, endThink); i >= 0 {
		out = out[i+len(endThink):]
	}
	out = strings.TrimSpace(out)
	if strings.HasPrefix(out, "```") {
		if m := fence.FindStringSubmatch(out); m != nil {
			out = m[1]
		}
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", ErrMalformed
	}
	return out, nil
}
