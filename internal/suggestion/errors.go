package suggestion

import "github.com/rotisserie/eris"

// Client input errors.
var (
	ErrEmptySequence    = eris.New("input sequence is empty")
	ErrNoMaskedToken    = eris.New("no masked token found in the input sequence")
	ErrNoMaskLogits     = eris.New("no logits for the masked token")
	ErrInvalidSelection = eris.New("invalid selected_word_id")
)

// ErrNoPending indicates there is no suggestion awaiting a selection.
var ErrNoPending = eris.New("user text not found in the database")

// ErrStoreConnection indicates the pending-suggestion store could not be reached.
var ErrStoreConnection = eris.New("store connection failed")

// IsValidation reports whether err was caused by malformed client input.
func IsValidation(err error) bool {
	for _, target := range []error{ErrEmptySequence, ErrNoMaskedToken, ErrNoMaskLogits, ErrInvalidSelection} {
		if eris.Is(err, target) {
			return true
		}
	}
	return false
}
