package dataset

import (
	"path/filepath"
	"strings"
)

type abbreviation struct {
	match string
	abbr  string
}

// Checked in order, so more specific model families come first.
var modelAbbreviations = []abbreviation{
	{"gpt-4o", "gpt4o"},
	{"gpt-4-turbo", "gpt4turbo"},
	{"gpt-4", "gpt4"},
	{"gpt-3.5-turbo-instruct", "gpt35turboinstruct"},
	{"gpt-3.5-turbo", "gpt35turbo"},
	{"gpt-3.5", "gpt35"},
	{"claude-3-7-sonnet", "claude37sonnet"},
	{"claude-3-5-sonnet", "claude35sonnet"},
	{"claude-3-5-haiku", "claude35haiku"},
}

// ModelAbbreviation shortens a model id for use in file names.
func ModelAbbreviation(model string) string {
	m := strings.ToLower(model)
	for _, a := range modelAbbreviations {
		if strings.Contains(m, a.match) {
			return a.abbr
		}
	}

	switch {
	case strings.Contains(m, "claude-3"):
		return "claude3" + firstOf(m, "opus", "sonnet", "haiku")
	case strings.Contains(m, "gemini"):
		return "gemini" + firstOf(m, "flash", "pro", "ultra")
	case strings.Contains(m, "deepseek"):
		return "deepseek" + firstOf(m, "coder")
	}

	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '-', '.', '/', '\\', ':', ' ':
			return -1
		}
		return r
	}, m)
	if len(cleaned) > 12 {
		cleaned = cleaned[:12]
	}
	if cleaned == "" {
		return "model"
	}
	return cleaned
}

func firstOf(s string, variants ...string) string {
	for _, v := range variants {
		if strings.Contains(s, v) {
			return v
		}
	}
	return ""
}

// DefaultOutputPath names the scored copy <stem>_BibAI_<model>.xlsx next to
// the input file.
func DefaultOutputPath(inputPath, model string) string {
	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	return filepath.Join(filepath.Dir(inputPath), stem+"_BibAI_"+ModelAbbreviation(model)+".xlsx")
}
