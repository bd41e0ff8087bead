package mcpserver

// NoteFormatContract describes the canonical Markdown note format and
// vault layout that LLM consumers must follow when proposing file
// operations.
const NoteFormatContract = `# Dagaz Note Format Contract

Every Markdown note stored in Dagaz MUST follow this structure.

## Vault layout

Notes live in exactly one of five taxonomy folders:

- ` + "`" + `Daily/` + "`" + ` — one note per calendar date (` + "`" + `Daily/2026-02-03.md` + "`" + `), aggregating
  every entry captured that day. Never create a second file for a date.
- ` + "`" + `Projects/` + "`" + `, ` + "`" + `People/` + "`" + `, ` + "`" + `Ideas/` + "`" + `, ` + "`" + `Reference/` + "`" + ` — one note per entity.

` + "`" + `Scans/` + "`" + `, ` + "`" + `INDEX.json` + "`" + `, and ` + "`" + `STRUCTURE.txt` + "`" + ` belong to the ingestion
pipeline. They are NOT valid targets for file operations.

## Structure

` + "```" + `markdown
---
title: Human-readable title        # REQUIRED – used in search and retrieval
summary: One-line gist             # OPTIONAL – boosts retrieval ranking
tags:                               # OPTIONAL – YAML list; used for filtering
  - tag-one
  - tag-two
---

Body text in standard Markdown.

Use [[wikilinks]] to reference other notes (without .md extension).
Use [[target|alias]] for display text that differs from the target.
` + "```" + `

Daily notes use headings instead of frontmatter: a ` + "`" + `# <date>` + "`" + ` top heading,
one ` + "`" + `## <entry title>` + "`" + ` per entry, and a ` + "`" + `---` + "`" + ` rule between entries.
When appending to a daily note, never rewrite existing entries.

## Rules

1. **` + "`" + `title` + "`" + ` is required** for entity notes, via frontmatter or a leading
   ` + "`" + `# heading` + "`" + `. It is the primary display name everywhere.
2. **Tags** are lowercase, kebab-case (e.g. ` + "`" + `trip-planning` + "`" + `, ` + "`" + `reading` + "`" + `).
3. **Wikilinks** use double brackets: ` + "`" + `[[Other Note]]` + "`" + `. The target is the
   note title or filename stem (no ` + "`" + `.md` + "`" + ` extension).
4. **File paths** end with ` + "`" + `.md` + "`" + `, use forward slashes, and start with a
   taxonomy folder.
5. **Encoding** is UTF-8 with a trailing newline.
6. **No HTML** unless absolutely necessary; prefer Markdown equivalents.

## Example

` + "```" + `markdown
---
title: Treefort build
summary: Backyard treefort plan and materials
tags:
  - woodworking
---

Platform goes up first. Materials list lives in [[Lumber suppliers]].

## Next steps

- measure the oak
- call [[Maria]] about the winch
` + "```" + `
`
