package suggestion

// Suggestions maps a 1-based rank, as a decimal string, to a candidate word.
type Suggestions map[string]string

// PendingSuggestion is the single suggestion awaiting the client's choice.
type PendingSuggestion struct {
	UserText       string
	SuggestedWords Suggestions
}

// PendingRecord is the persisted form of a PendingSuggestion. The table has no
// primary key; it never holds more than one row.
type PendingRecord struct {
	UserText       string `gorm:"column:user_text;type:text"`
	SuggestedWords string `gorm:"column:suggested_words;type:text"`
}

// TableName defines the table name for the PendingRecord model.
func (PendingRecord) TableName() string {
	return "storing"
}
