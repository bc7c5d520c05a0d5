package domain

// PromptSpec is the input of a single summarization call.
type PromptSpec struct {
	SystemInstructions string
	UserContent        string
}

// ModelParams selects the model and sampling used for a source.
type ModelParams struct {
	Model       string
	Temperature float64
	MaxTokens   int64
}
