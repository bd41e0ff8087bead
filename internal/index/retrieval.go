package index

import (
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/starford/dagaz/internal/parser"
)

const (
	maxQueryTokens  = 8
	maxLinksPerNote = 6
	excerptLength   = 240
	linkScanPrefix  = 1200
)

// BundleNote is one grounded note in a context bundle.
type BundleNote struct {
	Path    string   `json:"path"`
	Title   string   `json:"title"`
	Summary string   `json:"summary,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Links   []string `json:"links,omitempty"`
	Excerpt string   `json:"excerpt,omitempty"`
	Body    string   `json:"body,omitempty"`
}

// Source is the minimal note reference exposed to the consumer.
type Source struct {
	Path  string `json:"path"`
	Title string `json:"title"`
}

// ContextBundle is the ephemeral result of a retrieval query.
type ContextBundle struct {
	Query       string       `json:"query"`
	GeneratedAt time.Time    `json:"generatedAt"`
	Notes       []BundleNote `json:"notes"`
	Sources     []Source     `json:"sources"`
}

// BundleOptions caps the bundle size.
type BundleOptions struct {
	MaxNotes    int  // result cap for steps 1–3
	MaxLinked   int  // additional cap for link-expanded notes
	CharBudget  int  // per-note body budget
	ExpandLinks bool // follow outbound wikilinks
}

func (o BundleOptions) withDefaults() BundleOptions {
	if o.MaxNotes <= 0 {
		o.MaxNotes = 8
	}
	if o.MaxLinked < 0 {
		o.MaxLinked = 0
	}
	if o.CharBudget <= 0 {
		o.CharBudget = 4000
	}
	return o
}

// BuildBundle assembles the grounded context for a query. seeds are note
// paths resolved from a preferred-batch hint, in priority order. Any
// failure at any stage degrades to a smaller (possibly empty) bundle;
// retrieval never propagates an error to the calling agent.
func (e *Engine) BuildBundle(query string, seeds []string, opts BundleOptions) ContextBundle {
	opts = opts.withDefaults()
	bundle := ContextBundle{Query: query, GeneratedAt: time.Now().UTC()}

	var selected []string
	seen := make(map[string]struct{})
	snippets := make(map[string]string)

	add := func(p string) bool {
		if p == "" {
			return false
		}
		if _, dup := seen[p]; dup {
			return false
		}
		seen[p] = struct{}{}
		selected = append(selected, p)
		return true
	}

	// Step 1: seed from the preferred batch.
	for _, p := range seeds {
		if len(selected) >= opts.MaxNotes {
			break
		}
		add(p)
	}

	tokens := tokenize(query)

	// Step 2: full-text prefix query.
	if len(selected) < opts.MaxNotes && e.search != nil && len(tokens) > 0 {
		hits, err := e.search.Query(tokens, opts.MaxNotes*2)
		if err != nil {
			e.log.Warn("retrieval: search failed", slog.String("error", err.Error()))
		}
		for _, h := range hits {
			if len(selected) >= opts.MaxNotes {
				break
			}
			if add(h.Path) && h.Snippet != "" {
				snippets[h.Path] = h.Snippet
			}
		}
	}

	entries := readLedger(e.store).Notes
	byPath := make(map[string]Entry, len(entries))
	for _, en := range entries {
		byPath[en.Path] = en
	}

	// Step 3: manual keyword score over the ledger.
	if len(selected) < opts.MaxNotes && len(tokens) > 0 {
		for _, sc := range scoreLedger(entries, tokens, opts.ExpandLinks) {
			if len(selected) >= opts.MaxNotes {
				break
			}
			add(sc.entry.Path)
		}
	}

	// Step 4: link expansion.
	if opts.ExpandLinks && opts.MaxLinked > 0 {
		lookup := buildTitleLookup(entries)
		linked := 0
		for i := 0; i < len(selected) && linked < opts.MaxLinked; i++ {
			p := selected[i]
			for _, title := range e.linkTitles(byPath[p], snippets[p]) {
				if linked >= opts.MaxLinked {
					break
				}
				target, ok := lookup[normalizeTitle(title)]
				if !ok {
					continue
				}
				if add(target) {
					linked++
				}
			}
		}
	}

	// Step 5: load bodies and emit.
	for _, p := range selected {
		entry, ok := byPath[p]
		if !ok {
			entry = Entry{Path: p, Title: titleFromPath(p)}
		}
		body := ""
		if data, err := e.store.Read(p); err == nil {
			body = string(data)
			if len(body) > opts.CharBudget {
				body = body[:opts.CharBudget]
			}
		}
		excerpt := snippets[p]
		if excerpt == "" {
			excerpt = body
			if len(excerpt) > excerptLength {
				excerpt = excerpt[:excerptLength]
			}
		}
		bundle.Notes = append(bundle.Notes, BundleNote{
			Path:    entry.Path,
			Title:   entry.Title,
			Summary: entry.Summary,
			Tags:    entry.Tags,
			Links:   entry.Links,
			Excerpt: strings.TrimSpace(excerpt),
			Body:    body,
		})
		bundle.Sources = append(bundle.Sources, Source{Path: entry.Path, Title: entry.Title})
	}
	return bundle
}

// linkTitles returns up to six outbound link titles for a note: stored
// ledger links first, else wikilinks from the matched snippet, else
// wikilinks from the head of the note body.
func (e *Engine) linkTitles(entry Entry, snippet string) []string {
	links := entry.Links
	if len(links) == 0 && snippet != "" {
		links = parser.ExtractLinks(snippet)
	}
	if len(links) == 0 && entry.Path != "" {
		if data, err := e.store.Read(entry.Path); err == nil {
			head := string(data)
			if len(head) > linkScanPrefix {
				head = head[:linkScanPrefix]
			}
			links = parser.ExtractLinks(head)
		}
	}
	if len(links) > maxLinksPerNote {
		links = links[:maxLinksPerNote]
	}
	return links
}

// scored pairs a ledger entry with its keyword score.
type scored struct {
	entry Entry
	score int
}

// scoreLedger ranks entries against tokens: +3 per token in the title,
// +2 in the summary, +1 in tags, +1 in links (only when linking is
// enabled). Zero-score entries are dropped; ties break ascending by
// path.
func scoreLedger(entries []Entry, tokens []string, linksEnabled bool) []scored {
	var out []scored
	for _, en := range entries {
		title := strings.ToLower(en.Title)
		summary := strings.ToLower(en.Summary)
		tags := strings.ToLower(strings.Join(en.Tags, " "))
		links := strings.ToLower(strings.Join(en.Links, " "))

		score := 0
		for _, t := range tokens {
			if strings.Contains(title, t) {
				score += 3
			}
			if strings.Contains(summary, t) {
				score += 2
			}
			if strings.Contains(tags, t) {
				score++
			}
			if linksEnabled && strings.Contains(links, t) {
				score++
			}
		}
		if score > 0 {
			out = append(out, scored{entry: en, score: score})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].entry.Path < out[j].entry.Path
	})
	return out
}

// tokenize lowercases the query, strips non-alphanumerics, and caps the
// token count.
func tokenize(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	if len(fields) > maxQueryTokens {
		fields = fields[:maxQueryTokens]
	}
	return fields
}

// buildTitleLookup maps normalized titles and filename stems to note
// paths for link resolution.
func buildTitleLookup(entries []Entry) map[string]string {
	lookup := make(map[string]string, len(entries)*2)
	for _, en := range entries {
		if key := normalizeTitle(en.Title); key != "" {
			if _, exists := lookup[key]; !exists {
				lookup[key] = en.Path
			}
		}
		if key := normalizeTitle(titleFromPath(en.Path)); key != "" {
			if _, exists := lookup[key]; !exists {
				lookup[key] = en.Path
			}
		}
	}
	return lookup
}

// normalizeTitle folds a link target for lookup: wiki brackets and
// anchors stripped, underscores and dashes to spaces, case-insensitive,
// whitespace collapsed.
func normalizeTitle(title string) string {
	t := strings.TrimSpace(title)
	t = strings.TrimPrefix(t, "[[")
	t = strings.TrimSuffix(t, "]]")
	if i := strings.Index(t, "#"); i >= 0 {
		t = t[:i]
	}
	if i := strings.Index(t, "|"); i >= 0 {
		t = t[:i]
	}
	t = strings.NewReplacer("_", " ", "-", " ").Replace(t)
	t = strings.Join(strings.Fields(t), " ")
	return strings.ToLower(t)
}

// titleFromPath derives a display title from a note path's filename
// stem.
func titleFromPath(p string) string {
	base := path.Base(p)
	return strings.TrimSuffix(base, path.Ext(base))
}
