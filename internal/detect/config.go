package detect

import "time"

// Config holds the detector thresholds. Every field can be overridden from
// the detect section of the configuration file.
type Config struct {
	// Minimum answer length in runes, and the raised minimums for questions
	// asking for a definition or an explanation.
	MinLength        int `mapstructure:"min_length"`
	DefineMinLength  int `mapstructure:"define_min_length"`
	ExplainMinLength int `mapstructure:"explain_min_length"`

	// Course copy: longest common substring in runes, or whole-text
	// similarity ratio for answers of at least CopyRatioMinLength runes.
	CopyMinLCS         int     `mapstructure:"copy_min_lcs"`
	CopyRatio          float64 `mapstructure:"copy_ratio"`
	CopyRatioMinLength int     `mapstructure:"copy_ratio_min_length"`

	// PasteWindow is the resave delay below which a changed answer counts
	// as pasted.
	PasteWindow time.Duration `mapstructure:"paste_window"`

	// Letter-run heuristics apply to answers with at least MinLetters letters.
	MinLetters int     `mapstructure:"min_letters"`
	VowelRatio float64 `mapstructure:"vowel_ratio"`
	UpperRatio float64 `mapstructure:"upper_ratio"`
	// ConsonantRun flags any run of that many letters without a vowel; zero
	// disables the check.
	ConsonantRun int `mapstructure:"consonant_run"`

	// SimilarityThreshold applies to TF-IDF cosine similarity against the
	// reference dataset.
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`

	// Lexical fallback used when no reference dataset is loaded.
	LexicalThreshold     float64 `mapstructure:"lexical_threshold"`
	LexicalLongThreshold float64 `mapstructure:"lexical_long_threshold"`
	LexicalLongText      int     `mapstructure:"lexical_long_text"`

	// Markers are discourse phrases typical of generated text.
	Markers []string `mapstructure:"markers"`
	// Connectors are weaker discourse words counted by the lexical fallback.
	Connectors []string `mapstructure:"connectors"`
}

// DefaultConfig returns the thresholds used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MinLength:            3,
		DefineMinLength:      20,
		ExplainMinLength:     30,
		CopyMinLCS:           50,
		CopyRatio:            0.80,
		CopyRatioMinLength:   20,
		PasteWindow:          2 * time.Minute,
		MinLetters:           5,
		VowelRatio:           0.20,
		UpperRatio:           0.85,
		ConsonantRun:         6,
		SimilarityThreshold:  0.75,
		LexicalThreshold:     0.70,
		LexicalLongThreshold: 0.60,
		LexicalLongText:      400,
		Markers: []string{
			"en tant que",
			"dans le cadre",
			"il est important de noter",
			"cependant",
			"par conséquent",
			"d'après la",
			"selon les",
			"il convient de",
			"dans un premier temps",
			"en conclusion",
			"in light of",
			"it is important to note",
			"consequently",
			"furthermore",
			"moreover",
			"in conclusion",
			"it is worth noting",
			"as an ai",
		},
		Connectors: []string{
			"ainsi",
			"donc",
			"en effet",
			"également",
			"notamment",
			"toutefois",
			"de plus",
			"enfin",
			"also",
			"thus",
			"therefore",
			"however",
			"additionally",
			"indeed",
			"finally",
		},
	}
}
