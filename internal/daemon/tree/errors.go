package tree

import "fmt"

// LoadError reports a failed lister call for a node. The node keeps its
// previously cached children; callers decide whether to retry by calling
// Expand again.
type LoadError struct {
	Path    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %s", e.Path, e.Message)
}
