package core

import "io"

// UI is the human-facing output of the CLI. Logs go through Logger; UI is
// for results the operator asked for (tables, plans, summaries).
type UI interface {
	// Title prints a main title.
	Title(title string)
	// Section prints a section header.
	Section(title string)
	Success(msg string)
	Info(msg string)
	Warning(msg string)
	Error(msg string)
	// Table renders rows, the first row being the header.
	Table(rows [][]string) error
	// Printf prints a formatted message to the UI writer.
	Printf(format string, args ...interface{})
	Println(args ...interface{})
	// WithWriter returns a new UI instance writing to the specified writer.
	WithWriter(w io.Writer) UI
}
