// Package gemini discovers business listings through Gemini with Google Search grounding.
package gemini

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/eloisaabril01/emailscrap/internal/listing"
	"github.com/eloisaabril01/emailscrap/internal/logger"
	"github.com/eloisaabril01/emailscrap/pkg/pipeline/core"
)

type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string
}

// generator is the subset of genai.Models used here.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Factory opens one Source per query sharing a single client.
type Factory struct {
	models generator
	model  string
	log    *zap.SugaredLogger
}

func New(ctx context.Context, cfg Config) (*Factory, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.WithHint(errors.New("gemini api key is required"), "set GEMINI_API_KEY or source.gemini.api_key")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("gemini model is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, errors.Wrap(err, "create gemini client")
	}
	return newFactory(client.Models, strings.TrimSpace(cfg.Model)), nil
}

func newFactory(models generator, model string) *Factory {
	return &Factory{
		models: models,
		model:  model,
		log:    logger.ComponentLogger("source.gemini"),
	}
}

func (f *Factory) Open(_ context.Context, query string) (listing.Source, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("empty query")
	}
	return &Source{
		factory: f,
		query:   query,
		seen:    make(map[string]struct{}),
	}, nil
}

// Source pages through grounded search results for one query.
type Source struct {
	factory *Factory
	query   string

	mu        sync.Mutex
	seen      map[string]struct{}
	names     []string
	exhausted bool
}

type business struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Website string `json:"website"`
	MapsURL string `json:"maps_url"`
}

var outputSchema = &genai.Schema{
	Type: genai.TypeArray,
	Items: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"name":     {Type: genai.TypeString},
			"address":  {Type: genai.TypeString},
			"phone":    {Type: genai.TypeString},
			"website":  {Type: genai.TypeString},
			"maps_url": {Type: genai.TypeString},
		},
		Required: []string{"name", "address", "phone", "website", "maps_url"},
	},
}

// NextBatch asks for up to max businesses not returned before. A page with nothing new
// marks the source exhausted.
func (s *Source) NextBatch(ctx context.Context, max int) ([]listing.Listing, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exhausted || max <= 0 {
		return nil, s.exhausted, nil
	}

	prompt := buildPrompt(s.query, max, s.names)
	resp, err := s.factory.models.GenerateContent(
		ctx,
		s.factory.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			Tools: []*genai.Tool{
				{GoogleSearch: &genai.GoogleSearch{}},
			},
			CandidateCount:   1,
			ResponseMIMEType: "application/json",
			ResponseSchema:   outputSchema,
		},
	)
	if err != nil {
		return nil, false, classifyErr(err)
	}

	var parsed []business
	if err := json.Unmarshal([]byte(resp.Text()), &parsed); err != nil {
		return nil, false, errors.Wrap(err, "gemini: parse structured json")
	}

	var batch []listing.Listing
	for _, b := range parsed {
		l := toListing(b)
		if l.Name == "" {
			continue
		}
		key := l.SourceKey()
		if _, dup := s.seen[key]; dup {
			continue
		}
		s.seen[key] = struct{}{}
		s.names = append(s.names, l.Name)
		batch = append(batch, l)
		if len(batch) == max {
			break
		}
	}
	if len(batch) == 0 {
		s.exhausted = true
	}
	s.factory.log.Debugw("Gemini discovery page",
		logger.FieldQuery, s.query,
		logger.FieldCount, len(batch),
		logger.FieldTotalCount, len(s.names),
	)
	return batch, s.exhausted, nil
}

func toListing(b business) listing.Listing {
	orNA := func(v string) string {
		v = strings.TrimSpace(v)
		if v == "" {
			return "N/A"
		}
		return v
	}
	website := strings.TrimSpace(b.Website)
	if strings.EqualFold(website, "n/a") || strings.EqualFold(website, "none") {
		website = ""
	}
	return listing.Listing{
		Name:    strings.TrimSpace(b.Name),
		Address: orNA(b.Address),
		Phone:   orNA(b.Phone),
		Website: website,
		Key:     strings.TrimSpace(b.MapsURL),
	}
}

func buildPrompt(query string, max int, exclude []string) string {
	var sb strings.Builder
	sb.WriteString(`You are a local business directory. Use web search to find businesses listed on Google Maps that match the search below.

Return ONLY a JSON array of at most ` + strconv.Itoa(max) + ` objects with these keys:
- name (string)
- address (string; full street address)
- phone (string)
- website (string; the business's own website, empty if it has none)
- maps_url (string; the Google Maps listing URL, empty if unknown)

Rules:
- If you cannot find a field, set it to an empty string.
- Do not include extra keys.
- Return an empty array when there are no more matching businesses.
`)
	if len(exclude) > 0 {
		sb.WriteString("- Do not return any of these businesses: ")
		sb.WriteString(strings.Join(exclude, "; "))
		sb.WriteString("\n")
	}
	sb.WriteString("\nSearch: ")
	sb.WriteString(query)
	sb.WriteString("\n")
	return sb.String()
}

func classifyErr(err error) error {
	// Wrap transient failures so the caller may retry. Quota exhaustion does
	// not clear within a retry window, so it fails after the current attempt.
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return &core.LimitedTransientError{Err: err, ExtraRetries: 0}
		case apiErr.Code/100 == 5:
			return &core.TransientError{Err: err}
		}
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &core.TransientError{Err: err}
	}
	return err
}
