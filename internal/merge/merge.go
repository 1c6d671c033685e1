// Package merge builds merged rule files from a custom rule file and any
// number of rule sources per category.
package merge

import "github.com/John-Robertt/clashrules/internal/rules"

// Merge combines custom with remotes. Custom lines come first, in order, with
// comments and blank lines kept verbatim and repeated entries dropped. Remote
// entries follow in source order, skipping any entry already present. Remote
// comments and blank lines are dropped.
//
// Merge does not modify its arguments.
func Merge(custom rules.Document, remotes ...rules.Document) rules.Document {
	out := rules.Document{
		Source: custom.Source,
		Format: custom.Format,
		Lines:  make([]rules.Line, 0, len(custom.Lines)),
	}
	seen := make(map[string]struct{})

	for _, l := range custom.Lines {
		if l.Kind == rules.Entry {
			if _, dup := seen[l.Text]; dup {
				continue
			}
			seen[l.Text] = struct{}{}
		}
		out.Lines = append(out.Lines, l)
	}

	for _, d := range remotes {
		for _, l := range d.Lines {
			if l.Kind != rules.Entry {
				continue
			}
			if _, dup := seen[l.Text]; dup {
				continue
			}
			seen[l.Text] = struct{}{}
			out.Lines = append(out.Lines, l)
		}
	}
	return out
}
