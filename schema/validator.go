package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed post.schema.json
var postSchemaJSON string

//go:embed post_batch.schema.json
var batchSchemaJSON string

// PostPayload is one post as it arrives on the wire.
type PostPayload struct {
	Channel  string   `json:"channel"`
	PostID   *string  `json:"post_id,omitempty"`
	PostURL  *string  `json:"post_url,omitempty"`
	Text     string   `json:"text"`
	Date     string   `json:"date"`
	Views    int64    `json:"views"`
	Links    []string `json:"links,omitempty"`
	Images   []string `json:"images,omitempty"`
	Language *string  `json:"language,omitempty"`
}

type ChannelPayload struct {
	Name                string  `json:"name,omitempty"`
	URL                 string  `json:"url,omitempty"`
	Subscribers         int64   `json:"subscribers"`
	PostFrequencyPerDay float64 `json:"post_frequency_per_day"`
	HasLinksRatio       float64 `json:"has_links_ratio"`
	AverageViews        float64 `json:"average_views"`
}

// Batch is a validated input batch. Posts that failed validation are not in
// Posts; they are listed in the rejections returned alongside.
type Batch struct {
	Posts       []PostPayload             `json:"posts"`
	Channels    map[string]ChannelPayload `json:"channels,omitempty"`
	PostsCount  *int                      `json:"posts_count,omitempty"`
	CollectedAt *string                   `json:"collected_at,omitempty"`
}

// Rejection records why the post at Index was excluded.
type Rejection struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

type rawBatch struct {
	Posts       []json.RawMessage         `json:"posts"`
	Channels    map[string]ChannelPayload `json:"channels,omitempty"`
	PostsCount  *int                      `json:"posts_count,omitempty"`
	CollectedAt *string                   `json:"collected_at,omitempty"`
}

var (
	compileOnce      sync.Once
	postSchema       *jsonschema.Schema
	batchSchema      *jsonschema.Schema
	compileSchemaErr error
)

// ValidateBatchPayload checks the batch envelope and then every post on its
// own. An invalid envelope is an error; an invalid post is only rejected.
func ValidateBatchPayload(payload json.RawMessage) (*Batch, []Rejection, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("decode batch JSON: %w", err)
	}

	if err := loadSchemas(); err != nil {
		return nil, nil, fmt.Errorf("load schema: %w", err)
	}
	if err := batchSchema.Validate(value); err != nil {
		return nil, nil, fmt.Errorf("batch schema validation failed: %w", err)
	}

	var raw rawBatch
	if err := json.Unmarshal(bytes.TrimSpace(payload), &raw); err != nil {
		return nil, nil, fmt.Errorf("unmarshal batch: %w", err)
	}

	batch := &Batch{
		Posts:       make([]PostPayload, 0, len(raw.Posts)),
		Channels:    raw.Channels,
		PostsCount:  raw.PostsCount,
		CollectedAt: raw.CollectedAt,
	}
	var rejections []Rejection
	for i, rawPost := range raw.Posts {
		post, err := ValidatePostPayload(rawPost)
		if err != nil {
			rejections = append(rejections, Rejection{Index: i, Reason: err.Error()})
			continue
		}
		batch.Posts = append(batch.Posts, *post)
	}
	return batch, rejections, nil
}

// ValidatePostPayload validates a single post against the post schema and the
// semantic rules the schema cannot express.
func ValidatePostPayload(payload json.RawMessage) (*PostPayload, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode post JSON: %w", err)
	}

	if err := loadSchemas(); err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if err := postSchema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize post JSON: %w", err)
	}

	var post PostPayload
	if err := json.Unmarshal(normalized, &post); err != nil {
		return nil, fmt.Errorf("unmarshal post: %w", err)
	}

	if err := validateSemantics(&post); err != nil {
		return nil, err
	}
	return &post, nil
}

// ParsedDate returns the post date; it is only meaningful after validation.
func (p PostPayload) ParsedDate() time.Time {
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(p.Date))
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func loadSchemas() error {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		resources := map[string]string{
			"post.schema.json":       postSchemaJSON,
			"post_batch.schema.json": batchSchemaJSON,
		}
		for name, text := range resources {
			if err := compiler.AddResource(name, strings.NewReader(text)); err != nil {
				compileSchemaErr = fmt.Errorf("add schema resource %s: %w", name, err)
				return
			}
		}

		var err error
		if postSchema, err = compiler.Compile("post.schema.json"); err != nil {
			compileSchemaErr = fmt.Errorf("compile post schema: %w", err)
			return
		}
		if batchSchema, err = compiler.Compile("post_batch.schema.json"); err != nil {
			compileSchemaErr = fmt.Errorf("compile batch schema: %w", err)
			return
		}
	})

	if compileSchemaErr != nil {
		return compileSchemaErr
	}
	if postSchema == nil || batchSchema == nil {
		return fmt.Errorf("schema not initialized")
	}
	return nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(post *PostPayload) error {
	if post == nil {
		return fmt.Errorf("payload is nil")
	}

	if strings.TrimSpace(post.Channel) == "" {
		return fmt.Errorf("channel must not be empty")
	}
	if strings.TrimSpace(post.Text) == "" {
		return fmt.Errorf("text must not be empty")
	}
	if _, err := time.Parse(time.RFC3339, strings.TrimSpace(post.Date)); err != nil {
		return fmt.Errorf("date must be RFC3339 with a zone offset: %w", err)
	}
	if post.PostURL != nil {
		if err := validateURI("post_url", *post.PostURL); err != nil {
			return err
		}
	}
	return nil
}

func validateURI(fieldName, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%s must not be empty", fieldName)
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return fmt.Errorf("%s is not a valid URI: %w", fieldName, err)
	}
	return nil
}
