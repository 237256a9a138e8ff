package options

import (
	"strconv"
	"strings"
)

// Model is a transcription model name (e.g. "nova-2")
type Model string

const (
	ModelNova2          Model = "nova-2"
	ModelNova2Meeting   Model = "nova-2-meeting"
	ModelNova2Phonecall Model = "nova-2-phonecall"
	ModelNova           Model = "nova"
	ModelEnhanced       Model = "enhanced"
	ModelBase           Model = "base"
)

// Redact is an entity class to redact from the transcript
type Redact string

const (
	RedactPCI     Redact = "pci"
	RedactNumbers Redact = "numbers"
	RedactSSN     Redact = "ssn"
)

// Replace describes a find-and-replace term. An empty Replace removes Find.
type Replace struct {
	Find    string
	Replace string
}

// Keyword is a boosted keyword with an optional intensifier
type Keyword struct {
	Keyword     string
	Intensifier *float64
}

// Pair is a single query key/value in canonical order
type Pair struct {
	Key   string
	Value string
}

type multichannel struct {
	enabled bool
	models  []Model
}

type utterances struct {
	enabled  bool
	uttSplit *float64
}

// Options holds the generic transcription options shared by the streaming
// and prerecorded endpoints. Build one with New().
type Options struct {
	model              *Model
	version            *string
	language           *string
	punctuate          *bool
	profanityFilter    *bool
	redact             []Redact
	diarize            *bool
	ner                *bool
	multichannel       *multichannel
	alternatives       *int
	numerals           *bool
	search             []string
	replace            []Replace
	keywords           []Keyword
	keywordBoostLegacy bool
	utterances         *utterances
	tags               []string
	detectLanguage     *bool
	queryParams        []Pair
}

// Builder assembles an Options value
type Builder struct {
	o Options
}

// New returns an empty Builder
func New() *Builder {
	return &Builder{}
}

// Model sets the model. If multichannel models were set, they are cleared
// but multichannel stays enabled.
func (b *Builder) Model(m Model) *Builder {
	b.o.model = &m
	if b.o.multichannel != nil && b.o.multichannel.enabled {
		b.o.multichannel.models = nil
	}
	return b
}

func (b *Builder) Version(v string) *Builder {
	b.o.version = &v
	return b
}

// Language sets the BCP-47 language tag (e.g. "en-US")
func (b *Builder) Language(lang string) *Builder {
	b.o.language = &lang
	return b
}

func (b *Builder) Punctuate(v bool) *Builder {
	b.o.punctuate = &v
	return b
}

func (b *Builder) ProfanityFilter(v bool) *Builder {
	b.o.profanityFilter = &v
	return b
}

// Redact appends entity classes to redact
func (b *Builder) Redact(r ...Redact) *Builder {
	b.o.redact = append(b.o.redact, r...)
	return b
}

func (b *Builder) Diarize(v bool) *Builder {
	b.o.diarize = &v
	return b
}

func (b *Builder) NER(v bool) *Builder {
	b.o.ner = &v
	return b
}

// Multichannel enables or disables per-channel transcription
func (b *Builder) Multichannel(v bool) *Builder {
	b.o.multichannel = &multichannel{enabled: v}
	return b
}

// MultichannelWithModels enables multichannel with one model per channel.
// The models replace the single model in the encoded output.
func (b *Builder) MultichannelWithModels(models ...Model) *Builder {
	b.o.multichannel = &multichannel{enabled: true, models: append([]Model(nil), models...)}
	return b
}

func (b *Builder) Alternatives(n int) *Builder {
	b.o.alternatives = &n
	return b
}

func (b *Builder) Numerals(v bool) *Builder {
	b.o.numerals = &v
	return b
}

func (b *Builder) Search(terms ...string) *Builder {
	b.o.search = append(b.o.search, terms...)
	return b
}

func (b *Builder) Replace(r ...Replace) *Builder {
	b.o.replace = append(b.o.replace, r...)
	return b
}

// Keywords appends keywords without intensifiers
func (b *Builder) Keywords(words ...string) *Builder {
	for _, w := range words {
		b.o.keywords = append(b.o.keywords, Keyword{Keyword: w})
	}
	return b
}

func (b *Builder) KeywordsWithIntensifiers(k ...Keyword) *Builder {
	b.o.keywords = append(b.o.keywords, k...)
	return b
}

// KeywordBoostLegacy selects the legacy keyword boosting algorithm
func (b *Builder) KeywordBoostLegacy() *Builder {
	b.o.keywordBoostLegacy = true
	return b
}

func (b *Builder) Utterances(v bool) *Builder {
	b.o.utterances = &utterances{enabled: v}
	return b
}

// UtterancesWithSplit enables utterances with a custom split duration in seconds
func (b *Builder) UtterancesWithSplit(split float64) *Builder {
	b.o.utterances = &utterances{enabled: true, uttSplit: &split}
	return b
}

func (b *Builder) Tag(tags ...string) *Builder {
	b.o.tags = append(b.o.tags, tags...)
	return b
}

func (b *Builder) DetectLanguage(v bool) *Builder {
	b.o.detectLanguage = &v
	return b
}

// QueryParams appends raw query parameters, encoded after every known option
func (b *Builder) QueryParams(params ...Pair) *Builder {
	b.o.queryParams = append(b.o.queryParams, params...)
	return b
}

// Build returns an independent copy of the accumulated options
func (b *Builder) Build() *Options {
	o := b.o
	o.redact = append([]Redact(nil), b.o.redact...)
	o.search = append([]string(nil), b.o.search...)
	o.replace = append([]Replace(nil), b.o.replace...)
	o.keywords = append([]Keyword(nil), b.o.keywords...)
	o.tags = append([]string(nil), b.o.tags...)
	o.queryParams = append([]Pair(nil), b.o.queryParams...)
	if b.o.multichannel != nil {
		mc := *b.o.multichannel
		mc.models = append([]Model(nil), mc.models...)
		o.multichannel = &mc
	}
	return &o
}

// Pairs encodes the options as query pairs in canonical order.
// A nil receiver yields no pairs.
func (o *Options) Pairs() []Pair {
	if o == nil {
		return nil
	}

	var pairs []Pair
	add := func(k, v string) { pairs = append(pairs, Pair{Key: k, Value: v}) }

	if o.multichannel != nil && o.multichannel.enabled && len(o.multichannel.models) > 0 {
		names := make([]string, len(o.multichannel.models))
		for i, m := range o.multichannel.models {
			names[i] = string(m)
		}
		add("model", strings.Join(names, ","))
	} else if o.model != nil {
		add("model", string(*o.model))
	}

	if o.version != nil {
		add("version", *o.version)
	}
	if o.language != nil {
		add("language", *o.language)
	}
	if o.punctuate != nil {
		add("punctuate", strconv.FormatBool(*o.punctuate))
	}
	if o.profanityFilter != nil {
		add("profanity_filter", strconv.FormatBool(*o.profanityFilter))
	}
	for _, r := range o.redact {
		add("redact", string(r))
	}
	if o.diarize != nil {
		add("diarize", strconv.FormatBool(*o.diarize))
	}
	if o.ner != nil {
		add("ner", strconv.FormatBool(*o.ner))
	}
	if o.multichannel != nil {
		add("multichannel", strconv.FormatBool(o.multichannel.enabled))
	}
	if o.alternatives != nil {
		add("alternatives", strconv.Itoa(*o.alternatives))
	}
	if o.numerals != nil {
		add("numerals", strconv.FormatBool(*o.numerals))
	}
	for _, s := range o.search {
		add("search", s)
	}
	for _, r := range o.replace {
		if r.Replace != "" {
			add("replace", r.Find+":"+r.Replace)
		} else {
			add("replace", r.Find)
		}
	}
	for _, k := range o.keywords {
		if k.Intensifier != nil {
			add("keywords", k.Keyword+":"+formatFloat(*k.Intensifier))
		} else {
			add("keywords", k.Keyword)
		}
	}
	if o.keywordBoostLegacy {
		add("keyword_boost", "legacy")
	}
	if o.utterances != nil {
		add("utterances", strconv.FormatBool(o.utterances.enabled))
		if o.utterances.enabled && o.utterances.uttSplit != nil {
			add("utt_split", formatFloat(*o.utterances.uttSplit))
		}
	}
	for _, t := range o.tags {
		add("tag", t)
	}
	if o.detectLanguage != nil {
		add("detect_language", strconv.FormatBool(*o.detectLanguage))
	}
	pairs = append(pairs, o.queryParams...)

	return pairs
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
