package policy

import (
	"fmt"
	"strings"

	engerr "github.com/ggonzalez94/swap-engine/internal/errors"
)

// Mutating command paths. Everything else is read-only and never gated
// by the acknowledgement check.
var mutatingPaths = map[string]struct{}{
	"approve": {},
	"swap":    {},
}

// CheckCommandAllowed enforces the --enable-commands allowlist. An
// empty allowlist permits everything.
func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if len(allowlist) == 0 {
		return nil
	}
	normPath := normalize(commandPath)
	for _, allowed := range allowlist {
		if normalize(allowed) == normPath {
			return nil
		}
	}
	return engerr.New(engerr.CodeBlocked, "command blocked by --enable-commands policy")
}

// RequireAcknowledgement gates commands that broadcast transactions
// behind an explicit --yes.
func RequireAcknowledgement(acknowledged bool, commandPath string) error {
	if _, mutating := mutatingPaths[normalize(commandPath)]; !mutating {
		return nil
	}
	if acknowledged {
		return nil
	}
	return engerr.New(engerr.CodeBlocked, fmt.Sprintf("%s broadcasts a transaction; rerun with --yes to confirm", normalize(commandPath)))
}

func normalize(v string) string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(v)))
	return strings.Join(parts, " ")
}
