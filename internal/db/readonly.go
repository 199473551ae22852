package db

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrNotReadOnly is returned for SQL that could change the database or
// reach outside it.
var ErrNotReadOnly = errors.New("only a single read-only query is allowed")

// readVerbs may start a statement.
var readVerbs = map[string]bool{
	"SELECT": true, "WITH": true, "FROM": true, "VALUES": true, "TABLE": true,
	"SHOW": true, "DESCRIBE": true, "SUMMARIZE": true, "EXPLAIN": true,
}

// deniedWords may not appear anywhere outside string literals.
var deniedWords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true, "UPSERT": true,
	"CREATE": true, "DROP": true, "ALTER": true, "TRUNCATE": true,
	"COPY": true, "EXPORT": true, "IMPORT": true, "ATTACH": true, "DETACH": true,
	"INSTALL": true, "LOAD": true, "PRAGMA": true, "SET": true, "RESET": true,
	"CALL": true, "CHECKPOINT": true, "VACUUM": true, "USE": true,
	"BEGIN": true, "COMMIT": true, "ROLLBACK": true, "ABORT": true,
	"GRANT": true, "REVOKE": true,
	// Functions that read files, the environment or run nested SQL.
	"GLOB": true, "GETENV": true, "QUERY": true, "QUERY_TABLE": true, "SNIFF_CSV": true,
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokString
	tokPunct
)

type token struct {
	kind tokenKind
	text string
}

// CheckReadOnly reports whether query is a single statement that only
// reads tables of the database. It rejects writes, schema changes,
// settings, extension loading and file or environment access, including
// DuckDB's FROM 'file.csv' replacement scans.
func CheckReadOnly(query string) error {
	toks, err := tokenize(query)
	if err != nil {
		return err
	}
	for len(toks) > 0 && toks[len(toks)-1].text == ";" {
		toks = toks[:len(toks)-1]
	}
	if len(toks) == 0 {
		return fmt.Errorf("%w: empty query", ErrNotReadOnly)
	}
	if toks[0].kind != tokWord || !readVerbs[toks[0].text] {
		return fmt.Errorf("%w: %s statements are not allowed", ErrNotReadOnly, toks[0].text)
	}

	var clause string
	for i, t := range toks {
		switch t.kind {
		case tokPunct:
			if t.text == ";" {
				return fmt.Errorf("%w: multiple statements", ErrNotReadOnly)
			}
		case tokWord:
			if deniedWords[t.text] || strings.HasPrefix(t.text, "READ_") || strings.HasSuffix(t.text, "_SCAN") {
				return fmt.Errorf("%w: %s", ErrNotReadOnly, strings.ToLower(t.text))
			}
			switch t.text {
			case "SELECT", "FROM", "JOIN", "WHERE", "GROUP", "HAVING", "ORDER", "LIMIT", "ON", "USING", "QUALIFY", "VALUES":
				clause = t.text
			}
		case tokString:
			if i == 0 || (clause != "FROM" && clause != "JOIN") {
				continue
			}
			switch prev := toks[i-1].text; prev {
			case "FROM", "JOIN", ",", "(":
				return fmt.Errorf("%w: file scans", ErrNotReadOnly)
			}
		}
	}
	return nil
}

// tokenize splits SQL into upper-cased words, string literals and single
// punctuation runes. Comments are dropped and quoted identifiers become
// an opaque word.
func tokenize(q string) ([]token, error) {
	var toks []token
	rs := []rune(q)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '-' && i+1 < len(rs) && rs[i+1] == '-':
			for i < len(rs) && rs[i] != '\n' {
				i++
			}
		case r == '/' && i+1 < len(rs) && rs[i+1] == '*':
			j := i + 2
			for j+1 < len(rs) && !(rs[j] == '*' && rs[j+1] == '/') {
				j++
			}
			if j+1 >= len(rs) {
				return nil, fmt.Errorf("%w: unterminated comment", ErrNotReadOnly)
			}
			i = j + 2
		case r == '\'' || r == '"':
			j, text, ok := quoted(rs, i)
			if !ok {
				return nil, fmt.Errorf("%w: unterminated quote", ErrNotReadOnly)
			}
			switch {
			case r == '\'', strings.ContainsAny(text, "./\\"):
				// DuckDB scans a quoted identifier that looks like a path as a file.
				toks = append(toks, token{kind: tokString, text: text})
			default:
				toks = append(toks, token{kind: tokWord, text: "IDENT"})
			}
			i = j
		case r == '_' || unicode.IsLetter(r):
			j := i
			for j < len(rs) && (rs[j] == '_' || unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j])) {
				j++
			}
			toks = append(toks, token{kind: tokWord, text: strings.ToUpper(string(rs[i:j]))})
			i = j
		default:
			toks = append(toks, token{kind: tokPunct, text: string(r)})
			i++
		}
	}
	return toks, nil
}

// quoted reads the literal opening at rs[i]. A doubled quote is an escaped
// quote.
func quoted(rs []rune, i int) (int, string, bool) {
	q := rs[i]
	var b strings.Builder
	for j := i + 1; j < len(rs); j++ {
		if rs[j] != q {
			b.WriteRune(rs[j])
			continue
		}
		if j+1 < len(rs) && rs[j+1] == q {
			b.WriteRune(q)
			j++
			continue
		}
		return j + 1, b.String(), true
	}
	return 0, "", false
}
