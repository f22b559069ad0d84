package model

// Issue is one static-analysis finding, normalized at the tool-output parsing
// boundary. Only the stable rule identifier matters downstream; message text,
// severity and location are discarded by the parser.
type Issue struct {
	ID string
}
