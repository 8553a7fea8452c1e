package sync

import "fmt"

// DomainError is the caller-visible error taxonomy. Anything else that
// escapes a handler is surfaced as INTERNAL_ERROR by the dispatch
// wrapper, never as a transport fault.
type DomainError struct {
	Name    string
	Message string
	Details map[string]any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

func errVersionRejected(clientVersion, serverVersion string) *DomainError {
	return &DomainError{
		Name:    "VERSION_REJECTED",
		Message: fmt.Sprintf("client version %q rejected, server requires %q", clientVersion, serverVersion),
		Details: map[string]any{"version": clientVersion, "serverVersion": serverVersion},
	}
}

func errSpaceAccessDenied(spaceID string) *DomainError {
	return &DomainError{
		Name:    "SPACE_ACCESS_DENIED",
		Message: fmt.Sprintf("not allowed to access space %s", spaceID),
		Details: map[string]any{"spaceId": spaceID},
	}
}

func errNotInSpace(spaceID string) *DomainError {
	return &DomainError{
		Name:    "NOT_IN_SPACE",
		Message: fmt.Sprintf("not in space %s, join first", spaceID),
		Details: map[string]any{"spaceId": spaceID},
	}
}

func errDocNotFound(spaceID, docID string) *DomainError {
	return &DomainError{
		Name:    "DOC_NOT_FOUND",
		Message: fmt.Sprintf("doc %s not found in space %s", docID, spaceID),
		Details: map[string]any{"spaceId": spaceID, "docId": docID},
	}
}

func errInvalidPayload(reason string) *DomainError {
	return &DomainError{
		Name:    "INVALID_PAYLOAD",
		Message: reason,
	}
}
