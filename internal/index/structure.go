package index

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// buildStructure renders a two-level plain-text listing of the vault:
// one top-level entry per line ("name/" for directories), with immediate
// children of each directory indented one level. Hidden files and
// editor temp files are skipped.
func buildStructure(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var sb strings.Builder
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if !e.IsDir() {
			sb.WriteString(name)
			sb.WriteString("\n")
			continue
		}
		sb.WriteString(name)
		sb.WriteString("/\n")

		children, err := os.ReadDir(filepath.Join(root, name))
		if err != nil {
			continue
		}
		sort.Slice(children, func(i, j int) bool { return children[i].Name() < children[j].Name() })
		for _, c := range children {
			cn := c.Name()
			if strings.HasPrefix(cn, ".") {
				continue
			}
			sb.WriteString("  ")
			sb.WriteString(cn)
			if c.IsDir() {
				sb.WriteString("/")
			}
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}
