package database

import (
	"fmt"
	"io"
	"os"
)

// Logger receives the human readable transcript of a run: the statements
// being applied and the markers around them.
type Logger interface {
	Printf(format string, v ...any)
	Println(v ...any)
}

type WriterLogger struct {
	W io.Writer
}

func (l WriterLogger) Printf(format string, v ...any) {
	fmt.Fprintf(l.W, format, v...)
}

func (l WriterLogger) Println(v ...any) {
	fmt.Fprintln(l.W, v...)
}

func StdoutLogger() Logger {
	return WriterLogger{W: os.Stdout}
}

type NullLogger struct{}

func (NullLogger) Printf(string, ...any) {}
func (NullLogger) Println(...any)        {}
