// Package coverage parses Go cover profiles and uploads coverage reports
// to an external reporting service after a successful build.
package coverage

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Block is one coverage block from a profile line:
// name.go:startLine.startCol,endLine.endCol numStmt count
type Block struct {
	File      string
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
	NumStmt   int
	Count     int
}

// FileCoverage summarizes one file.
type FileCoverage struct {
	File       string  `json:"file"`
	Statements int     `json:"statements"`
	Covered    int     `json:"covered"`
	Percent    float64 `json:"percent"`
}

// Profile is a parsed cover profile.
type Profile struct {
	Mode   string
	Blocks []Block
}

// ParseFile reads and parses a cover profile from disk.
func ParseFile(path string) (*Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open profile %s: %w", path, err)
	}
	defer f.Close()

	var p Profile
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "mode:") {
			p.Mode = strings.TrimSpace(strings.TrimPrefix(line, "mode:"))
			continue
		}
		block, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("profile %s line %d: %w", path, lineNo, err)
		}
		p.Blocks = append(p.Blocks, block)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}
	if p.Mode == "" {
		return nil, fmt.Errorf("profile %s: missing mode header", path)
	}
	return &p, nil
}

func parseLine(line string) (Block, error) {
	var b Block

	// <file>:<start>.<col>,<end>.<col> <stmts> <count>
	fileEnd := strings.LastIndex(line, ":")
	if fileEnd < 0 {
		return b, fmt.Errorf("malformed block line %q", line)
	}
	b.File = line[:fileEnd]

	fields := strings.Fields(line[fileEnd+1:])
	if len(fields) != 3 {
		return b, fmt.Errorf("malformed block line %q", line)
	}

	ranges := strings.Split(fields[0], ",")
	if len(ranges) != 2 {
		return b, fmt.Errorf("malformed range %q", fields[0])
	}

	var err error
	if b.StartLine, b.StartCol, err = parsePos(ranges[0]); err != nil {
		return b, err
	}
	if b.EndLine, b.EndCol, err = parsePos(ranges[1]); err != nil {
		return b, err
	}
	if b.NumStmt, err = strconv.Atoi(fields[1]); err != nil {
		return b, fmt.Errorf("statement count %q: %w", fields[1], err)
	}
	if b.Count, err = strconv.Atoi(fields[2]); err != nil {
		return b, fmt.Errorf("hit count %q: %w", fields[2], err)
	}
	return b, nil
}

func parsePos(s string) (line, col int, err error) {
	dot := strings.Index(s, ".")
	if dot < 0 {
		return 0, 0, fmt.Errorf("malformed position %q", s)
	}
	if line, err = strconv.Atoi(s[:dot]); err != nil {
		return 0, 0, fmt.Errorf("malformed position %q: %w", s, err)
	}
	if col, err = strconv.Atoi(s[dot+1:]); err != nil {
		return 0, 0, fmt.Errorf("malformed position %q: %w", s, err)
	}
	return line, col, nil
}

// Files returns per-file summaries sorted by file name.
func (p *Profile) Files() []FileCoverage {
	perFile := map[string]*FileCoverage{}
	for _, b := range p.Blocks {
		fc, ok := perFile[b.File]
		if !ok {
			fc = &FileCoverage{File: b.File}
			perFile[b.File] = fc
		}
		fc.Statements += b.NumStmt
		if b.Count > 0 {
			fc.Covered += b.NumStmt
		}
	}

	out := make([]FileCoverage, 0, len(perFile))
	for _, fc := range perFile {
		if fc.Statements > 0 {
			fc.Percent = 100 * float64(fc.Covered) / float64(fc.Statements)
		}
		out = append(out, *fc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].File < out[j].File })
	return out
}

// TotalPercent returns the statement coverage across all files.
func (p *Profile) TotalPercent() float64 {
	var stmts, covered int
	for _, b := range p.Blocks {
		stmts += b.NumStmt
		if b.Count > 0 {
			covered += b.NumStmt
		}
	}
	if stmts == 0 {
		return 0
	}
	return 100 * float64(covered) / float64(stmts)
}
