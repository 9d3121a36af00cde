package postgres

import "fmt"

// TableNames holds environment-prefixed table names (dev_, test_, prod_).
type TableNames struct {
	Threads  string
	Messages string
	Feedback string
}

// NewTableNames creates table names with the given prefix.
func NewTableNames(prefix string) *TableNames {
	return &TableNames{
		Threads:  fmt.Sprintf("%sthreads", prefix),
		Messages: fmt.Sprintf("%smessages", prefix),
		Feedback: fmt.Sprintf("%smessage_feedback", prefix),
	}
}
