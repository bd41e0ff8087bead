package vault

import (
	"fmt"
	"path"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Action is the kind of externally proposed file operation.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// FileOperation is a create/update/delete of a note path proposed by an
// external agent. It is validated before any write happens.
type FileOperation struct {
	Action  Action    `json:"action"`
	Path    string    `json:"path"`
	Content string    `json:"content,omitempty"`
	Meta    *NoteMeta `json:"noteMeta,omitempty"`
}

// NoteMeta is optional metadata accompanying a proposed operation.
type NoteMeta struct {
	Title   string   `json:"title,omitempty"`
	Summary string   `json:"summary,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Links   []string `json:"links,omitempty"`
}

// Validate enforces the operation contract: a known action, a note path
// under an allowed folder with a recognized extension, and content for
// anything but delete. Disallowed roots (scan storage, system files) are
// rejected before any write.
func (op FileOperation) Validate() error {
	err := validation.ValidateStruct(&op,
		validation.Field(&op.Action, validation.Required,
			validation.In(ActionCreate, ActionUpdate, ActionDelete)),
		validation.Field(&op.Path, validation.Required, validation.By(validNotePath)),
	)
	if err != nil {
		return err
	}
	if op.Action != ActionDelete && strings.TrimSpace(op.Content) == "" {
		return fmt.Errorf("vault: %s requires content", op.Action)
	}
	return nil
}

// validNotePath rejects traversal, non-Markdown extensions, and paths
// outside the note folder taxonomy.
func validNotePath(value interface{}) error {
	p, _ := value.(string)
	trimmed := strings.TrimPrefix(p, "/")
	cleaned := path.Clean(trimmed)
	if cleaned != trimmed {
		return fmt.Errorf("not a clean vault-relative path")
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("path escapes the vault")
	}
	if path.Ext(cleaned) != ".md" {
		return fmt.Errorf("notes must use the .md extension")
	}
	if !NoteFolder(cleaned) {
		return fmt.Errorf("path must be under one of: %s", strings.Join(Folders(), ", "))
	}
	return nil
}
