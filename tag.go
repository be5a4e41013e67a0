package runner

import "github.com/bluelibs/runner-go/internal/schema"

// TagDefinition is typed metadata attachable to tasks, resources, events,
// and middleware. Two operations matter at runtime: Exists and Extract.
type TagDefinition struct {
	id           string
	configSchema schema.Schema
}

// NewTag creates a tag. A configSchema, when given, validates the config
// passed to With at attachment time.
func NewTag(id string, opts ...TagOption) *TagDefinition {
	t := &TagDefinition{id: id}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type TagOption func(*TagDefinition)

// WithTagConfigSchema attaches a schema validating this tag's config.
func WithTagConfigSchema(s schema.Schema) TagOption {
	return func(t *TagDefinition) { t.configSchema = s }
}

func (t *TagDefinition) ID() string   { return t.id }
func (t *TagDefinition) Kind() Kind   { return KindTag }
func (t *TagDefinition) String() string { return "tag:" + t.id }

// TagAttachment pairs a tag with the config it was attached with.
type TagAttachment struct {
	Tag    *TagDefinition
	Config any
}

// With validates config (if the tag declares a configSchema) and returns an
// attachment ready to be placed in a definition's Tags list.
func (t *TagDefinition) With(config any) (TagAttachment, error) {
	validated, err := validateWith(t.configSchema, KindTag, t.id, config)
	if err != nil {
		return TagAttachment{}, err
	}
	return TagAttachment{Tag: t, Config: validated}, nil
}

// MustWith is With but panics on validation failure; useful for attaching
// tags at definition-construction time where errors should surface at boot
// rather than be silently swallowed.
func (t *TagDefinition) MustWith(config any) TagAttachment {
	att, err := t.With(config)
	if err != nil {
		panic(err)
	}
	return att
}

// Taggable is implemented by every definition kind that carries tags.
type Taggable interface {
	TagAttachments() []TagAttachment
}

// Exists reports whether target carries this tag.
func (t *TagDefinition) Exists(target Taggable) bool {
	_, ok := t.find(target)
	return ok
}

// Extract returns the config this tag was attached with on target, or nil
// and false if the tag is absent.
func (t *TagDefinition) Extract(target Taggable) (any, bool) {
	att, ok := t.find(target)
	if !ok {
		return nil, false
	}
	return att.Config, true
}

func (t *TagDefinition) find(target Taggable) (TagAttachment, bool) {
	if target == nil {
		return TagAttachment{}, false
	}
	for _, att := range target.TagAttachments() {
		if att.Tag == t {
			return att, true
		}
	}
	return TagAttachment{}, false
}
