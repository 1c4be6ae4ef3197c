package templates

// FooterNote is shown at the bottom of every page.
const FooterNote = "Suggestions are ranked by the masked-language model. Only one sentence can be pending at a time."

// HomePageData contains dynamic values rendered on the landing page.
type HomePageData struct {
	Title     string
	MaskToken string
	Example   string
	Pending   *PendingView
}

// PendingView is the sentence awaiting a selection together with its candidates.
type PendingView struct {
	UserText string
	Words    []WordView
}

// WordView is one ranked candidate.
type WordView struct {
	ID   string
	Word string
}

// ErrorPageData holds information for rendering an error view.
type ErrorPageData struct {
	Title       string
	StatusLabel string
	Message     string
}
