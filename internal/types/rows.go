package types

// Row is one reduced record: a reservoir's daily value for every persisted
// column. Exactly one of Values (feeds without a lead axis) or Leads (one
// entry per lead day, in lead order) is populated.
type Row struct {
	Reservoir string               `json:"reservoir"`
	Date      string               `json:"date"`
	Timestamp string               `json:"timestamp"`
	Values    map[string]float64   `json:"values,omitempty"`
	Leads     map[string][]float64 `json:"leads,omitempty"`
}

// RowSet is every row produced for one catch-up window. It is persisted as a
// single unit.
type RowSet struct {
	Feed    FeedName
	Columns []string
	HasLead bool
	Rows    []Row
}

// Len returns the number of rows.
func (rs *RowSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Rows)
}
