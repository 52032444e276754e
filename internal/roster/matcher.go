package roster

import (
	"fmt"

	"github.com/lucasplcorrea/EnviaFolha/internal/common"
	"github.com/lucasplcorrea/EnviaFolha/internal/segment"
)

// IdentifierWidth is the fixed width of a segmented payslip identifier
// (4-digit company code + 5-digit registration code).
const IdentifierWidth = 9

// PadID left-pads a roster unique id to the identifier width used by
// the segmenter.
func PadID(id string) string {
	for len(id) < IdentifierWidth {
		id = "0" + id
	}
	return id
}

// MatchDocument finds the single candidate filename whose leading
// identifier token equals the roster entry's padded unique id. Zero or
// multiple candidates is an error, never a guess.
func MatchDocument(uniqueID string, filenames []string) (string, error) {
	padded := PadID(uniqueID)

	var matches []string
	for _, name := range filenames {
		id, _, ok := segment.ParseFilename(name)
		if !ok {
			continue
		}
		if id == padded {
			matches = append(matches, name)
		}
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", common.NewAppError("DOC_NOT_FOUND",
			fmt.Sprintf("document not found for id %s", padded),
			common.ErrNotFound)
	default:
		return "", common.NewAppError("DOC_AMBIGUOUS",
			fmt.Sprintf("%d documents match id %s", len(matches), padded),
			common.ErrInvalidInput)
	}
}
