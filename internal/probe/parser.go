package probe

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// defaultPattern matches one diagnostic per line in the form emitted by
// tsc-style checkers:
//
//	src/app.ts(12,5): error TS2304: Cannot find name 'foo'.
//
// Capture groups: file, line, column, code, message.
const defaultPattern = `^(.+)\((\d+),(\d+)\): error ([A-Za-z0-9_-]+): (.*)$`

// Diagnostic is a single parsed complaint from the validation command.
type Diagnostic struct {
	File    string
	Line    int
	Col     int
	Code    string
	Message string
}

// Parser turns raw validation output into category counts. The grammar is
// a single line-oriented regular expression so it can be swapped per tool
// without touching any caller.
type Parser struct {
	re *regexp.Regexp
}

// NewParser returns a parser for the default diagnostic grammar.
func NewParser() *Parser {
	return &Parser{re: regexp.MustCompile(defaultPattern)}
}

// NewParserWithPattern compiles a custom grammar. The pattern must expose
// five capture groups: file, line, column, code, message.
func NewParserWithPattern(pattern string) (*Parser, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("probe: compiling diagnostic pattern: %w", err)
	}
	if re.NumSubexp() != 5 {
		return nil, fmt.Errorf("probe: diagnostic pattern needs 5 capture groups, has %d", re.NumSubexp())
	}
	return &Parser{re: re}, nil
}

// ParseLine matches a single output line. The second return value reports
// whether the line was a diagnostic at all.
func (p *Parser) ParseLine(line string) (Diagnostic, bool) {
	line = strings.TrimRight(line, "\r")
	m := p.re.FindStringSubmatch(line)
	if m == nil {
		return Diagnostic{}, false
	}
	lineNo, _ := strconv.Atoi(m[2])
	colNo, _ := strconv.Atoi(m[3])
	return Diagnostic{
		File:    m[1],
		Line:    lineNo,
		Col:     colNo,
		Code:    m[4],
		Message: m[5],
	}, true
}

// Scan counts diagnostics in combined tool output. Lines that do not match
// the grammar are ignored; the tool is trusted to print one diagnostic per
// line. Total equals the number of matched lines, so every categorized
// diagnostic is also counted in the total.
func (p *Parser) Scan(output string) (total int, byCategory map[string]int) {
	byCategory = make(map[string]int)
	for _, line := range strings.Split(output, "\n") {
		d, ok := p.ParseLine(line)
		if !ok {
			continue
		}
		total++
		byCategory[d.Code]++
	}
	return total, byCategory
}
