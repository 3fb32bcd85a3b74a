package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"
)

// Optional AI review: transactions still uncategorized after the rules and
// nearest-neighbor passes (typically because the corpus is thin) are sent to
// Claude in batches. Suggestions are provisional, exactly like predictions;
// only the spreadsheet overlay confirms a category.

const aiBatchSize = 50

type aiTransaction struct {
	Date        string  `json:"date"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	Account     string  `json:"account"`
}

type aiCategoryScore struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

type aiDecision struct {
	SuggestedCategories []aiCategoryScore `json:"suggested_categories"`
	Reasoning           string            `json:"reasoning,omitempty"`
}

type aiResponse struct {
	Decisions []aiDecision `json:"decisions"`
}

// reviewWithAI fills categories for rows the predictor could not. Any API
// failure is reported and the run continues; categorization is best effort.
func reviewWithAI(ctx context.Context, cfg *Config, s *ledgerStore, sum *runSummary) error {
	if !cfg.AI.Enabled || cfg.AI.APIKey == "" {
		return nil
	}
	processed, ok, err := readTable[ProcessedTransaction](s, tblProcessed)
	if err != nil || !ok {
		return err
	}
	corpus, _, err := readTable[TrainingExample](s, tblTraining)
	if err != nil {
		return err
	}
	categories := knownCategories(corpus)

	var pending []ProcessedTransaction
	for _, t := range processed {
		if t.Category == "" && !t.CategoryConfirmed {
			pending = append(pending, t)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	client := anthropic.NewClient(option.WithAPIKey(cfg.AI.APIKey))
	model := cfg.AI.Model
	if model == "" {
		model = "claude-sonnet-4-5-20250929"
	}

	var reviewed []ProcessedTransaction
	for start := 0; start < len(pending); start += aiBatchSize {
		end := min(start+aiBatchSize, len(pending))
		batch := pending[start:end]
		decisions, err := callClaude(ctx, &client, model, batch, categories)
		if err != nil {
			return errors.Wrap(err, "AI review failed")
		}
		if len(decisions) != len(batch) {
			return errors.Errorf("AI returned %d decisions for %d transactions", len(decisions), len(batch))
		}
		for i, d := range decisions {
			if len(d.SuggestedCategories) == 0 {
				continue
			}
			sort.Slice(d.SuggestedCategories, func(a, b int) bool {
				return d.SuggestedCategories[a].Confidence > d.SuggestedCategories[b].Confidence
			})
			t := batch[i]
			t.Category = d.SuggestedCategories[0].Category
			reviewed = append(reviewed, t)
		}
	}
	if len(reviewed) == 0 {
		return nil
	}
	stats, err := appendOrMerge(s, tblProcessed, reviewed, incomingWins)
	if err != nil {
		return errors.Wrap(err, "AI review merge failed")
	}
	sum.aiReviewed = stats.Updated + stats.Added
	return nil
}

func knownCategories(corpus []TrainingExample) []string {
	set := make(map[string]bool)
	for _, ex := range corpus {
		set[ex.Category] = true
	}
	cats := make([]string, 0, len(set))
	for c := range set {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}

func callClaude(ctx context.Context, client *anthropic.Client, model string, batch []ProcessedTransaction, categories []string) ([]aiDecision, error) {
	txns := make([]aiTransaction, 0, len(batch))
	for _, t := range batch {
		amt, _ := t.Amount.Float64()
		txns = append(txns, aiTransaction{
			Date:        t.Date.Format(dayStamp),
			Description: t.Desc,
			Amount:      amt,
			Account:     t.AccountName,
		})
	}
	prompt, err := buildReviewPrompt(txns, categories)
	if err != nil {
		return nil, err
	}

	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 8192,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, err
	}
	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	// The response may wrap the JSON in a markdown fence.
	jsonStart := strings.Index(text, "{")
	jsonEnd := strings.LastIndex(text, "}")
	if jsonStart == -1 || jsonEnd == -1 {
		return nil, errors.Errorf("no JSON found in response: %s", text)
	}
	var resp aiResponse
	if err := json.Unmarshal([]byte(text[jsonStart:jsonEnd+1]), &resp); err != nil {
		return nil, errors.Wrap(err, "unable to parse AI response")
	}
	return resp.Decisions, nil
}

func buildReviewPrompt(txns []aiTransaction, categories []string) (string, error) {
	data, err := json.MarshalIndent(struct {
		Transactions []aiTransaction `json:"transactions"`
		Categories   []string        `json:"categories"`
	}{txns, categories}, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`You are a financial transaction categorization expert.

Categorize each transaction below. Prefer one of the listed categories; if
none fits, suggest a sensible new one.

Return a JSON object with one decision per transaction, in the SAME ORDER as
the input:

{
  "decisions": [
    {
      "suggested_categories": [
        {"category": "Groceries", "confidence": 0.85},
        {"category": "Restaurants", "confidence": 0.15}
      ],
      "reasoning": "brief, 5-10 words"
    }
  ]
}

Each decision must have 1-3 suggestions sorted by confidence descending.
Return exactly one decision for each transaction.

**Transaction Data:**

%s

**Now generate the JSON response with your categorization decisions:**`, data), nil
}
