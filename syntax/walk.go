package syntax

// Walk traverses cmd and every Command it contains, calling fn for each
// node. Traversal stops early if fn returns false for a node (its children
// are skipped, but walking continues with siblings already queued).
func Walk(cmd Command, fn func(Command) bool) {
	if cmd == nil || !fn(cmd) {
		return
	}
	switch c := cmd.(type) {
	case *Simple:
		// no child Commands
	case *Pipeline:
		for _, s := range c.Stages {
			Walk(s, fn)
		}
	case *Sequence:
		for _, s := range c.Commands {
			Walk(s, fn)
		}
	case *Subshell:
		Walk(c.Body, fn)
	}
}
