package pipeline

// Rules is the system instruction sent with every structuring call. It
// tells the model how to turn a handwritten page into vault-ready
// Markdown and how to classify it into a folder.
const Rules = `You convert photographed handwritten notebook pages into a personal
Markdown note archive.

General rules:
- Preserve the writer's meaning and wording; fix only obvious
  transcription artifacts. Never invent content that is not on the page.
- Produce clean Markdown: headings, lists, and checkboxes where the page
  uses them.
- Reference existing notes with [[wikilinks]] when the page clearly
  mentions them; consult the provided archive index for known titles.
- Tags are lowercase kebab-case.
- Classify every page into exactly one of the allowed folders. Pages that
  read like a journal or daily log belong in the daily folder.
- Respond with a single JSON object and nothing else.`

const transcribePrompt = `Transcribe the handwritten page in the image exactly as written.
Keep line breaks where they separate distinct thoughts. Respond with a
single JSON object:
{"transcript": "<full transcription>", "confidence": <0.0-1.0>}`

const structurePrompt = `Using the transcript below and the archive context, produce a
structured note. Respond with a single JSON object:
{"title": "<short note title>",
 "summary": "<one-sentence summary>",
 "markdown": "<the note body as Markdown>",
 "tags": ["<tag>", ...],
 "links": ["<existing note title>", ...],
 "folder": "<one of the allowed folders>"}`

const combinedPrompt = `Transcribe the handwritten page in the image, then produce a
structured note from it in one step. Respond with a single JSON object:
{"transcript": "<full transcription>",
 "confidence": <0.0-1.0>,
 "title": "<short note title>",
 "summary": "<one-sentence summary>",
 "markdown": "<the note body as Markdown>",
 "tags": ["<tag>", ...],
 "links": ["<existing note title>", ...],
 "folder": "<one of the allowed folders>"}`

const refinePrompt = `Review the structured note below against the archive context.
Improve wikilinks to existing notes, tag choice, and folder
classification. Do not change the meaning or drop content. Respond with
the same JSON object shape:
{"title": "...", "summary": "...", "markdown": "...",
 "tags": [...], "links": [...], "folder": "..."}`
