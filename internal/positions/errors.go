package positions

import "fmt"

type errUnknownCanonical struct{ canonical string }

func (e errUnknownCanonical) Error() string {
	return fmt.Sprintf("positions: no exchange client registered for canonical %q", e.canonical)
}

func unknownCanonical(canonical string) error { return errUnknownCanonical{canonical: canonical} }
