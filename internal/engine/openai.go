package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"cvpipeline/internal/config"
)

const systemPrompt = `You are a résumé screening assistant. Score the CV provided by the user and respond with a single JSON object, no prose, matching exactly this shape:
{
  "experience_score": <int 0-100>,
  "education_score": <int 0-100>,
  "skills_score": <int 0-100>,
  "overall_score": <int 0-100>,
  "experience_rationale": "<string>",
  "education_rationale": "<string>",
  "skills_rationale": "<string>",
  "feedback": "<string>",
  "years_experience": <int or null>,
  "education_level": "<string or null>",
  "key_skills": ["<string>", ...],
  "job_titles": ["<string>", ...],
  "companies": ["<string>", ...]
}
Order key_skills, job_titles, and companies by relevance, most relevant first.`

// OpenAI implements Engine against an OpenAI-compatible chat completion API.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates the engine client. BaseURL supports OpenAI-compatible
// backends (e.g. a local gateway); empty means api.openai.com.
func NewOpenAI(cfg config.EngineConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}
}

var _ Engine = (*OpenAI)(nil)

// Analyze sends the extracted text for scoring and validates the response.
func (o *OpenAI) Analyze(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(req)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", ErrMalformedResponse)
	}

	tokens := resp.Usage.TotalTokens
	return parseResult(resp.Model, resp.Choices[0].Message.Content, &tokens)
}

func buildUserPrompt(req Request) string {
	var b strings.Builder
	if req.TargetRole != "" {
		fmt.Fprintf(&b, "Target role: %s\n", req.TargetRole)
	}
	if req.Locale != "" {
		fmt.Fprintf(&b, "Locale: %s\n", req.Locale)
	}
	b.WriteString("CV text:\n")
	b.WriteString(req.Text)
	return b.String()
}

// resultPayload mirrors the JSON contract. Scores are pointers so a missing
// field is distinguishable from a literal zero.
type resultPayload struct {
	ExperienceScore     *int     `json:"experience_score"`
	EducationScore      *int     `json:"education_score"`
	SkillsScore         *int     `json:"skills_score"`
	OverallScore        *int     `json:"overall_score"`
	ExperienceRationale string   `json:"experience_rationale"`
	EducationRationale  string   `json:"education_rationale"`
	SkillsRationale     string   `json:"skills_rationale"`
	Feedback            string   `json:"feedback"`
	YearsExperience     *int     `json:"years_experience"`
	EducationLevel      *string  `json:"education_level"`
	KeySkills           []string `json:"key_skills"`
	JobTitles           []string `json:"job_titles"`
	Companies           []string `json:"companies"`
}

// parseResult decodes and validates an engine response body. Scores must all
// be present and inside [0,100]; a negative years_experience is rejected.
func parseResult(modelName, content string, tokens *int) (*Result, error) {
	var p resultPayload
	if err := json.Unmarshal([]byte(content), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	scores := map[string]*int{
		"experience_score": p.ExperienceScore,
		"education_score":  p.EducationScore,
		"skills_score":     p.SkillsScore,
		"overall_score":    p.OverallScore,
	}
	for name, v := range scores {
		if v == nil {
			return nil, fmt.Errorf("%w: missing %s", ErrMalformedResponse, name)
		}
		if *v < 0 || *v > 100 {
			return nil, fmt.Errorf("%w: %s %d out of range [0,100]", ErrMalformedResponse, name, *v)
		}
	}
	if p.YearsExperience != nil && *p.YearsExperience < 0 {
		return nil, fmt.Errorf("%w: negative years_experience", ErrMalformedResponse)
	}

	return &Result{
		ExperienceScore:     *p.ExperienceScore,
		EducationScore:      *p.EducationScore,
		SkillsScore:         *p.SkillsScore,
		OverallScore:        *p.OverallScore,
		ExperienceRationale: p.ExperienceRationale,
		EducationRationale:  p.EducationRationale,
		SkillsRationale:     p.SkillsRationale,
		Feedback:            p.Feedback,
		YearsExperience:     p.YearsExperience,
		EducationLevel:      p.EducationLevel,
		KeySkills:           p.KeySkills,
		JobTitles:           p.JobTitles,
		Companies:           p.Companies,
		Model:               modelName,
		Tokens:              tokens,
	}, nil
}
