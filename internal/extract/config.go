package extract

// Signal names one recognizable feature of shared text. Confidence is
// additive over present signals, so the weight table fully determines
// the score and stays tunable without touching the engine.
type Signal string

const (
	SignalActionVerb     Signal = "action_verb"
	SignalTimeReference  Signal = "time_reference"
	SignalRequestKeyword Signal = "request_keyword"
)

// CategoryRule maps trigger words to a suggested category. Rules are
// evaluated in order; the first rule with a matching trigger wins.
type CategoryRule struct {
	Category string
	Triggers []string
}

type Config struct {
	BaseConfidence  float64
	Weights         map[Signal]float64
	AmbiguityCutoff float64
	MaxTitleLen     int

	// RequestPhrases are leading politeness/request openers stripped
	// from titles; they also count as the request-keyword signal.
	RequestPhrases []string
	ActionVerbs    []string
	UrgencyMarkers []string
	Vocabulary     []string
	Categories     []CategoryRule
}

func DefaultConfig() Config {
	return Config{
		BaseConfidence: 0.2,
		Weights: map[Signal]float64{
			SignalActionVerb:     0.2,
			SignalTimeReference:  0.2,
			SignalRequestKeyword: 0.2,
		},
		AmbiguityCutoff: 0.6,
		MaxTitleLen:     80,
		RequestPhrases: []string{
			"please", "can you", "could you", "would you",
			"don't forget", "dont forget", "remember to", "make sure to",
		},
		ActionVerbs: []string{
			"pick up", "buy", "call", "send", "email", "pay", "book",
			"schedule", "meet", "clean", "finish", "submit", "review",
			"bring", "get", "order", "return", "renew", "cancel",
		},
		UrgencyMarkers: []string{"urgent", "asap", "important", "right away", "critical"},
		Vocabulary: []string{
			"pick up", "buy", "call", "send", "email", "pay", "book",
			"schedule", "meet", "meeting", "appointment", "deadline",
			"groceries", "doctor", "dentist", "bill", "rent", "laundry",
			"dry cleaning", "birthday", "flight", "invoice", "report",
		},
		Categories: []CategoryRule{
			{Category: "Shopping", Triggers: []string{"buy", "groceries", "grocery", "shopping", "order", "store", "milk", "bread"}},
			{Category: "Work", Triggers: []string{"meeting", "deadline", "report", "email", "invoice", "project", "client"}},
			{Category: "Health", Triggers: []string{"doctor", "dentist", "appointment", "medicine", "pharmacy", "gym"}},
			{Category: "Finance", Triggers: []string{"pay", "bill", "rent", "bank", "transfer", "tax"}},
			{Category: "Home", Triggers: []string{"clean", "laundry", "dry cleaning", "repair", "trash", "dishes"}},
		},
	}
}
