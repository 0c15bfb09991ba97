package model

import "time"

// Page is the rendered HTML of one report stage.
type Page struct {
	StockID   Identifier
	Report    ReportType
	URL       string
	HTML      string
	FetchedAt time.Time
}

// Filing is a document retrieved for a report, stored at Path.
type Filing struct {
	StockID Identifier
	Report  ReportType
	Period  string
	URL     string
	Path    string
	Skipped bool
}
