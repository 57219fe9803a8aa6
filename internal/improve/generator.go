package improve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spboyer/promptloop/internal/execution"
	"github.com/spboyer/promptloop/internal/models"
	"github.com/spboyer/promptloop/internal/utils"
)

// GenerationTemperature is used for every candidate generation call.
const GenerationTemperature = 0.7

// Proposal is what a Generator is asked to improve.
type Proposal struct {
	Baseline *models.Template
	Analysis string
	Max      int
	// Model overrides the generator's default model when set.
	Model string
}

// Candidate is a proposed template body. Versions are assigned by the loop.
type Candidate struct {
	Body              string
	Rationale         string
	AddressedFailures []string
	Source            models.CandidateSource
}

// Generator proposes improved template bodies. It never fails: when the model cannot help it
// falls back to fixed mutations of the baseline.
type Generator interface {
	Propose(ctx context.Context, p Proposal) []Candidate
}

// LLMGenerator asks a generation backend for candidates.
type LLMGenerator struct {
	backend execution.GenerationBackend
	model   string
}

var _ Generator = (*LLMGenerator)(nil)

func NewGenerator(backend execution.GenerationBackend, model string) *LLMGenerator {
	return &LLMGenerator{backend: backend, model: model}
}

func (g *LLMGenerator) Propose(ctx context.Context, p Proposal) []Candidate {
	model := g.model
	if p.Model != "" {
		model = p.Model
	}
	log := slog.With("template", p.Baseline.Ref(), "model", model)

	reply, err := g.backend.Generate(ctx, execution.Request{
		Prompt:      BuildImprovementPrompt(p),
		Model:       model,
		Temperature: GenerationTemperature,
	})
	if err != nil {
		log.Warn("Candidate generation failed, using fallbacks", "error", err)
		return Fallbacks(p.Baseline.Body, p.Max)
	}

	candidates, err := ParseCandidates(reply, p.Max)
	if err != nil {
		log.Warn("Could not parse generated candidates, using fallbacks", "error", err)
		return Fallbacks(p.Baseline.Body, p.Max)
	}
	if len(candidates) == 0 {
		log.Warn("Generator proposed no usable candidates, using fallbacks")
		return Fallbacks(p.Baseline.Body, p.Max)
	}
	return candidates
}

// BuildImprovementPrompt asks for a JSON array of rewritten templates.
func BuildImprovementPrompt(p Proposal) string {
	var b strings.Builder
	b.WriteString("You are an expert prompt engineer. Analyze the following prompt and its failures, then propose improved versions.\n\n")
	b.WriteString("BASELINE PROMPT:\n")
	b.WriteString(p.Baseline.Body)
	b.WriteString("\n\nFAILURE ANALYSIS:\n")
	b.WriteString(p.Analysis)
	fmt.Fprintf(&b, "\n\nTASK: Generate %d improved versions of this prompt that address the identified failures.\n", p.Max)
	b.WriteString("Keep every {placeholder} of the baseline prompt; the inputs are substituted into them.\n\n")
	b.WriteString("For each candidate, provide:\n")
	b.WriteString("1. An improved prompt template\n")
	b.WriteString("2. A brief explanation of what was changed and why\n")
	b.WriteString("3. How it addresses the failure cases\n\n")
	b.WriteString("Respond with a JSON array, where each element has:\n")
	b.WriteString(`{
  "version": "<incremented version number>",
  "template_text": "<improved prompt>",
  "rationale": "<explanation of changes>",
  "addressed_failures": ["<list of failure types addressed>"]
}`)
	b.WriteString("\n")
	return b.String()
}

type candidateReply struct {
	Version           any      `mapstructure:"version"`
	TemplateText      string   `mapstructure:"template_text"`
	Rationale         string   `mapstructure:"rationale"`
	AddressedFailures []string `mapstructure:"addressed_failures"`
}

// ParseCandidates decodes a generator reply. The reply may be fenced, and a single object is
// accepted in place of an array. Candidates without a body are dropped and at most limit are kept (0 keeps all).
func ParseCandidates(reply string, limit int) ([]Candidate, error) {
	items, err := decodeItems(utils.ExtractFencedBlock(reply, "json"))
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for i, item := range items {
		var c candidateReply
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &c,
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(item); err != nil {
			return nil, fmt.Errorf("candidate %d: %w", i+1, err)
		}
		if strings.TrimSpace(c.TemplateText) == "" {
			continue
		}
		out = append(out, Candidate{
			Body:              c.TemplateText,
			Rationale:         c.Rationale,
			AddressedFailures: c.AddressedFailures,
			Source:            models.CandidateGenerated,
		})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func decodeItems(text string) ([]map[string]any, error) {
	var list []map[string]any
	if err := json.Unmarshal([]byte(text), &list); err == nil {
		return list, nil
	}
	var single map[string]any
	if err := json.Unmarshal([]byte(text), &single); err == nil {
		return []map[string]any{single}, nil
	}

	// prose around an unfenced array
	start, end := strings.Index(text, "["), strings.LastIndex(text, "]")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(text[start:end+1]), &list); err == nil {
			return list, nil
		}
	}
	return nil, errors.New("reply is not a JSON array of candidates")
}

// Fallbacks are fixed mutations of body used when the generator cannot produce candidates.
func Fallbacks(body string, limit int) []Candidate {
	all := []Candidate{
		{
			Body:              body + "\n\nPlease ensure your response is accurate, well-formatted, and complete.",
			Rationale:         "Added explicit instructions for accuracy and formatting",
			AddressedFailures: []string{"format", "correctness"},
		},
		{
			Body:              body + "\n\nExample:\nInput: [example input]\nOutput: [example output]",
			Rationale:         "Added example to guide output format",
			AddressedFailures: []string{"format"},
		},
		{
			Body:              "Think step by step.\n\n" + body + "\n\nProvide your answer after careful consideration.",
			Rationale:         "Added step-by-step reasoning prompt",
			AddressedFailures: []string{"correctness", "consistency"},
		},
	}
	for i := range all {
		all[i].Source = models.CandidateFallback
	}
	if limit >= 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}
