package domain

// SourceType enumerates where the conditioning image came from.
type SourceType string

const (
	SourceCamera         SourceType = "camera"
	SourceUpload         SourceType = "upload"
	SourceStyleReference SourceType = "style_reference"
)

// FundingToken enumerates the token types a batch can be paid with.
type FundingToken string

const (
	TokenCredits FundingToken = "credits"
	TokenPremium FundingToken = "premium"
)

// Alternate returns the other funding token.
func (t FundingToken) Alternate() FundingToken {
	if t == TokenCredits {
		return TokenPremium
	}
	return TokenCredits
}

// SourceImage is the captured or uploaded asset a batch is conditioned on.
type SourceImage struct {
	Data   []byte
	MIME   string
	URL    string
	Width  int
	Height int
}

// GenerationRequest is the immutable configuration for one submission.
// It is built once by the gateway and never mutated afterwards; retries
// re-submit a copy with JobCount forced to 1.
type GenerationRequest struct {
	Model          string
	Prompt         string
	NegativePrompt string
	StylePrompt    string
	StyleName      string
	Width          int
	Height         int
	Steps          int
	Guidance       []float64
	Seed           *int64
	JobCount       int
	Funding        FundingToken
	Premium        bool
	Source         *SourceImage
	SourceType     SourceType
	KeepOriginal   bool
}

// SlotCount is the fixed number of display slots this request produces.
func (r GenerationRequest) SlotCount() int {
	n := r.JobCount
	if n < 1 {
		n = 1
	}
	if r.KeepOriginal {
		n++
	}
	return n
}
