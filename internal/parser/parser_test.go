package parser

import (
	"reflect"
	"testing"
)

func TestParse_Frontmatter(t *testing.T) {
	data := []byte(`---
title: Standup notes
summary: Weekly sync decisions
tags:
  - meeting
  - project-x
---

Body with [[Roadmap]] and #inline tag.
`)
	res, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.Title != "Standup notes" {
		t.Errorf("Title = %q", res.Title)
	}
	if res.Summary != "Weekly sync decisions" {
		t.Errorf("Summary = %q", res.Summary)
	}
	wantTags := []string{"meeting", "project-x", "inline"}
	if !reflect.DeepEqual(res.Tags, wantTags) {
		t.Errorf("Tags = %v, want %v", res.Tags, wantTags)
	}
	if !reflect.DeepEqual(res.Links, []string{"Roadmap"}) {
		t.Errorf("Links = %v", res.Links)
	}
}

func TestParse_NoFrontmatter(t *testing.T) {
	data := []byte("# Heading Title\n\nPlain body.\n")
	res, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.Title != "Heading Title" {
		t.Errorf("Title = %q", res.Title)
	}
	if res.Frontmatter != nil {
		t.Errorf("Frontmatter = %v, want nil", res.Frontmatter)
	}
	if res.Summary != "" {
		t.Errorf("Summary = %q, want empty", res.Summary)
	}
}

func TestParse_UnclosedFrontmatter(t *testing.T) {
	data := []byte("---\ntitle: broken\nno close")
	res, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.Body != string(data) {
		t.Errorf("Body = %q, want full content", res.Body)
	}
}

func TestParse_InvalidYAMLFallsBack(t *testing.T) {
	data := []byte("---\n: : bad yaml [\n---\nbody text\n")
	res, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.Frontmatter != nil {
		t.Error("expected nil frontmatter for invalid YAML")
	}
}

func TestExtractLinks(t *testing.T) {
	cases := []struct {
		name string
		body string
		want []string
	}{
		{"aliases", "See [[Target|display text]] twice [[Target]]", []string{"Target"}},
		{"multiple", "[[A]] then [[B]]", []string{"A", "B"}},
		{"empty target", "[[ ]] and [[Real]]", []string{"Real"}},
		{"none", "no links here", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractLinks(tc.body)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("ExtractLinks = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDeriveTitle_H1Fallback(t *testing.T) {
	res, _ := Parse([]byte("intro line\n# Actual Title\nmore"))
	if res.Title != "Actual Title" {
		t.Errorf("Title = %q", res.Title)
	}
}
