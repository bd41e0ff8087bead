// Package pipeline turns a captured page image into a validated,
// structured note using one to three generation calls depending on the
// configured quality mode.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/dagaz/internal/genclient"
)

// Mode selects the cost/quality tradeoff for page processing.
type Mode string

const (
	// ModeFast performs a single combined call: transcription,
	// structuring, and classification together.
	ModeFast Mode = "fast"
	// ModeBalanced transcribes first, then structures with archive
	// context. This is the default.
	ModeBalanced Mode = "balanced"
	// ModeBest is balanced plus a refinement call that improves
	// linking and classification without altering meaning.
	ModeBest Mode = "best"
)

// ParseMode validates a mode string, defaulting empty to balanced.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return ModeBalanced, nil
	case ModeFast:
		return ModeFast, nil
	case ModeBalanced:
		return ModeBalanced, nil
	case ModeBest:
		return ModeBest, nil
	}
	return "", fmt.Errorf("pipeline: unknown quality mode %q", s)
}

// Validation failures. Each is terminal for the page: the attempt fails
// and no partial note is written.
var (
	ErrEmptyTranscript = errors.New("pipeline: empty transcript")
	ErrEmptyMarkdown   = errors.New("pipeline: empty structured markdown")
	ErrEmptyTitle      = errors.New("pipeline: empty note title")
	ErrUnknownFolder   = errors.New("pipeline: classification outside folder taxonomy")
)

// Generator is the generation call the pipeline depends on. *genclient.Client
// satisfies it; tests substitute a scripted fake.
type Generator interface {
	Generate(ctx context.Context, req genclient.Request) (string, error)
}

// Context is the archive state handed to structuring calls.
type Context struct {
	Rules      string   // system rules text
	LedgerJSON string   // current ledger snapshot
	Structure  string   // current structure snapshot
	Folders    []string // allowed folder taxonomy
}

// Result is a fully validated processing outcome for one page.
type Result struct {
	Transcript     string
	TranscriptJSON string
	Markdown       string
	StructuredJSON string
	Title          string
	Summary        string
	Tags           []string
	Links          []string
	Folder         string
	Confidence     float64
}

// Processor drives the per-page call sequence for a quality mode.
type Processor struct {
	gen         Generator
	mode        Mode
	temperature float64
	maxTokens   int
	log         *slog.Logger
}

// New creates a Processor. A zero temperature and token limit select the
// defaults used for structured extraction.
func New(gen Generator, mode Mode, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		gen:         gen,
		mode:        mode,
		temperature: 0.2,
		maxTokens:   8192,
		log:         log,
	}
}

// Mode returns the configured quality mode.
func (p *Processor) Mode() Mode {
	return p.mode
}

type transcriptPayload struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

type structuredPayload struct {
	Title    string   `json:"title"`
	Summary  string   `json:"summary"`
	Markdown string   `json:"markdown"`
	Tags     []string `json:"tags"`
	Links    []string `json:"links"`
	Folder   string   `json:"folder"`
}

type combinedPayload struct {
	transcriptPayload
	structuredPayload
}

// Process runs the mode's call sequence for one page image and validates
// the outcome. Any validation failure aborts the whole attempt.
func (p *Processor) Process(ctx context.Context, image []byte, mime string, pctx Context) (*Result, error) {
	switch p.mode {
	case ModeFast:
		return p.processFast(ctx, image, mime, pctx)
	case ModeBest:
		return p.processBalanced(ctx, image, mime, pctx, true)
	default:
		return p.processBalanced(ctx, image, mime, pctx, false)
	}
}

// processFast does transcription, structuring, and classification in one
// call. Cheapest, but the single response carries the highest risk.
func (p *Processor) processFast(ctx context.Context, image []byte, mime string, pctx Context) (*Result, error) {
	raw, err := p.gen.Generate(ctx, genclient.Request{
		Parts: []genclient.Part{
			{Text: combinedPrompt + "\n\n" + p.contextBlock(pctx)},
			{InlineData: &genclient.InlineData{MIMEType: mime, Data: image}},
		},
		SystemInstruction: pctx.Rules,
		Temperature:       p.temperature,
		MaxOutputTokens:   p.maxTokens,
		JSONOutput:        true,
	})
	if err != nil {
		return nil, err
	}

	var payload combinedPayload
	srcJSON, err := decodeObject(raw, &payload)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Transcript:     payload.Transcript,
		TranscriptJSON: srcJSON,
		Markdown:       payload.Markdown,
		StructuredJSON: srcJSON,
		Title:          strings.TrimSpace(payload.Title),
		Summary:        strings.TrimSpace(payload.Summary),
		Tags:           payload.Tags,
		Links:          payload.Links,
		Confidence:     payload.Confidence,
	}
	return p.validate(res, payload.Folder, pctx.Folders)
}

// processBalanced transcribes first, then structures with context; with
// refine it adds a third call that reworks the structured output.
func (p *Processor) processBalanced(ctx context.Context, image []byte, mime string, pctx Context, refine bool) (*Result, error) {
	// Call A: transcription only, no archive context.
	rawA, err := p.gen.Generate(ctx, genclient.Request{
		Parts: []genclient.Part{
			{Text: transcribePrompt},
			{InlineData: &genclient.InlineData{MIMEType: mime, Data: image}},
		},
		SystemInstruction: pctx.Rules,
		Temperature:       p.temperature,
		MaxOutputTokens:   p.maxTokens,
		JSONOutput:        true,
	})
	if err != nil {
		return nil, err
	}
	var transcript transcriptPayload
	transcriptJSON, err := decodeObject(rawA, &transcript)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(transcript.Transcript) == "" {
		return nil, ErrEmptyTranscript
	}

	// Call B: structure and classify from the transcript.
	rawB, err := p.gen.Generate(ctx, genclient.Request{
		Parts: []genclient.Part{{Text: structurePrompt +
			"\n\nTranscript:\n" + transcript.Transcript +
			"\n\n" + p.contextBlock(pctx)}},
		SystemInstruction: pctx.Rules,
		Temperature:       p.temperature,
		MaxOutputTokens:   p.maxTokens,
		JSONOutput:        true,
	})
	if err != nil {
		return nil, err
	}
	var structured structuredPayload
	structuredJSON, err := decodeObject(rawB, &structured)
	if err != nil {
		return nil, err
	}

	// Call C (best mode): refinement over the same context.
	if refine {
		rawC, err := p.gen.Generate(ctx, genclient.Request{
			Parts: []genclient.Part{{Text: refinePrompt +
				"\n\nStructured note:\n" + structuredJSON +
				"\n\n" + p.contextBlock(pctx)}},
			SystemInstruction: pctx.Rules,
			Temperature:       p.temperature,
			MaxOutputTokens:   p.maxTokens,
			JSONOutput:        true,
		})
		if err != nil {
			return nil, err
		}
		var refined structuredPayload
		refinedJSON, err := decodeObject(rawC, &refined)
		if err != nil {
			p.log.Warn("pipeline: refine output unusable, keeping structured result",
				slog.String("error", err.Error()))
		} else {
			structured = refined
			structuredJSON = refinedJSON
		}
	}

	res := &Result{
		Transcript:     transcript.Transcript,
		TranscriptJSON: transcriptJSON,
		Markdown:       structured.Markdown,
		StructuredJSON: structuredJSON,
		Title:          strings.TrimSpace(structured.Title),
		Summary:        strings.TrimSpace(structured.Summary),
		Tags:           structured.Tags,
		Links:          structured.Links,
		Confidence:     transcript.Confidence,
	}
	return p.validate(res, structured.Folder, pctx.Folders)
}

// validate enforces the terminal validation rules and resolves the
// classified folder against the taxonomy.
func (p *Processor) validate(res *Result, folder string, taxonomy []string) (*Result, error) {
	if strings.TrimSpace(res.Transcript) == "" {
		return nil, ErrEmptyTranscript
	}
	if strings.TrimSpace(res.Markdown) == "" {
		return nil, ErrEmptyMarkdown
	}
	if res.Title == "" {
		return nil, ErrEmptyTitle
	}
	resolved, ok := matchFolder(folder, taxonomy)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFolder, folder)
	}
	res.Folder = resolved
	return res, nil
}

// matchFolder resolves a classified folder name against the taxonomy,
// folding case and surrounding whitespace. Classification is free text
// from a model, so anything that does not resolve is rejected.
func matchFolder(got string, taxonomy []string) (string, bool) {
	want := strings.ToLower(strings.TrimSpace(strings.Trim(got, "/")))
	for _, f := range taxonomy {
		if strings.ToLower(f) == want {
			return f, true
		}
	}
	return "", false
}

// contextBlock renders the archive context appended to structuring
// prompts.
func (p *Processor) contextBlock(pctx Context) string {
	var sb strings.Builder
	sb.WriteString("Allowed folders: ")
	sb.WriteString(strings.Join(pctx.Folders, ", "))
	if pctx.Structure != "" {
		sb.WriteString("\n\nVault structure:\n")
		sb.WriteString(pctx.Structure)
	}
	if pctx.LedgerJSON != "" {
		sb.WriteString("\n\nArchive index:\n")
		sb.WriteString(pctx.LedgerJSON)
	}
	return sb.String()
}
