package model

// RowError records one failed row of a bulk upload, preserving input order
// and the offending row data.
type RowError struct {
	Row     int     `json:"row"`
	Message string  `json:"message"`
	Data    JSONMap `json:"data,omitempty"`
}

// IngestReport is the outcome of one bulk-upload call. Row-level failures
// never abort the batch; the report states exactly how many rows succeeded.
type IngestReport struct {
	FileID   string     `json:"fileId"`
	FileName string     `json:"fileName"`
	Total    int        `json:"total"`
	Inserted int        `json:"inserted"`
	Errors   []RowError `json:"errors,omitempty"`
}
