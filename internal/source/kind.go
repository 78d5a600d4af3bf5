package source

import "fmt"

// Kind is the source variant tag.
type Kind int

const (
	// KindRemoteService is a table published by a web feature service (BCGW).
	KindRemoteService Kind = iota + 1
	// KindFile is a layer of a local or object-storage vector file.
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindRemoteService:
		return "BCGW"
	case KindFile:
		return "FILE"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind maps a configured source_type onto a Kind.
// "REMOTE_SERVICE" is accepted as a synonym of "BCGW".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "BCGW", "REMOTE_SERVICE":
		return KindRemoteService, nil
	case "FILE":
		return KindFile, nil
	default:
		return 0, fmt.Errorf("unsupported source_type %q", s)
	}
}
