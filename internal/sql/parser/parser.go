// Package parser tokenizes and parses SQL-like statements into tagged
// command records. Two keyword dialects normalize to one grammar. Parsing
// never panics and never returns a Go error from Parse: failures come back
// as ERROR commands.
package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse parses one statement. params, when non-nil, binds @name values in
// criteria, insert rows and update assignments; binding operates on a clone
// so cached templates stay untouched.
func Parse(text string, params map[string]any) Command {
	cmd := parseStatement(text)
	if cmd.Kind == KindError || cmd.Kind == KindEmpty {
		return cmd
	}
	if len(params) > 0 {
		cmd = *Bind(&cmd, params)
	} else {
		bindCommand(&cmd, nil)
	}
	return cmd
}

func parseStatement(text string) Command {
	s := strings.TrimSpace(text)
	s = strings.TrimSuffix(s, ";")
	s = strings.TrimSpace(s)
	if s == "" {
		return Command{Kind: KindEmpty, Text: text}
	}

	toks, err := Tokenize(s)
	if err != nil {
		return errCmd(text, err.Error())
	}
	toks = normalizeDialect(toks)

	p := &cursor{src: s, toks: toks}
	cmd, err := p.statement()
	if err != nil {
		return errCmd(text, err.Error())
	}
	cmd.Text = text
	return cmd
}

type cursor struct {
	src  string
	toks []Token
	pos  int
}

func (p *cursor) done() bool { return p.pos >= len(p.toks) }

func (p *cursor) peek() (Token, bool) {
	if p.done() {
		return Token{}, false
	}
	return p.toks[p.pos], true
}

func (p *cursor) next() (Token, error) {
	if p.done() {
		return Token{}, fmt.Errorf("parser: unexpected end of statement")
	}
	t := p.toks[p.pos]
	p.pos++
	return t, nil
}

// kw reports whether the next token is the given keyword, without consuming.
func (p *cursor) kw(word string) bool {
	t, ok := p.peek()
	return ok && t.Kind == TokIdent && strings.EqualFold(t.Text, word)
}

// eat consumes the keyword if present.
func (p *cursor) eat(word string) bool {
	if p.kw(word) {
		p.pos++
		return true
	}
	return false
}

// expectKw consumes the keyword or fails.
func (p *cursor) expectKw(word string) error {
	if !p.eat(word) {
		t, ok := p.peek()
		if !ok {
			return fmt.Errorf("parser: expected %s, got end of statement", word)
		}
		return fmt.Errorf("parser: expected %s, got %q", word, t.Text)
	}
	return nil
}

func (p *cursor) eatPunct(ch string) bool {
	t, ok := p.peek()
	if ok && t.Kind == TokPunct && t.Text == ch {
		p.pos++
		return true
	}
	return false
}

func (p *cursor) expectPunct(ch string) error {
	if !p.eatPunct(ch) {
		t, ok := p.peek()
		if !ok {
			return fmt.Errorf("parser: expected %q, got end of statement", ch)
		}
		return fmt.Errorf("parser: expected %q, got %q", ch, t.Text)
	}
	return nil
}

func (p *cursor) ident() (string, error) {
	t, err := p.next()
	if err != nil {
		return "", err
	}
	if t.Kind != TokIdent {
		return "", fmt.Errorf("parser: expected identifier, got %q", t.Text)
	}
	return t.Text, nil
}

// rest returns the raw source from the current token to the end.
func (p *cursor) rest() string {
	if p.done() {
		return ""
	}
	return strings.TrimSpace(p.src[p.toks[p.pos].Pos:])
}

func (p *cursor) expectEnd() error {
	if t, ok := p.peek(); ok {
		return fmt.Errorf("parser: unexpected trailing token %q", t.Text)
	}
	return nil
}

func (p *cursor) statement() (Command, error) {
	t, ok := p.peek()
	if !ok {
		return Command{Kind: KindEmpty}, nil
	}
	if t.Kind != TokIdent {
		return Command{}, fmt.Errorf("parser: unexpected token %q", t.Text)
	}
	switch strings.ToUpper(t.Text) {
	case "CREATE":
		return p.createStatement()
	case "DROP":
		return p.dropStatement()
	case "SHOW":
		return p.showStatement()
	case "INSERT":
		return p.insertStatement()
	case "SELECT":
		return p.selectStatement()
	case "UPDATE":
		return p.updateStatement()
	case "DELETE":
		return p.deleteStatement()
	case "EXPLAIN":
		return p.explainStatement()
	case "BEGIN":
		p.pos++
		return Command{Kind: KindBegin}, p.expectEnd()
	case "COMMIT":
		p.pos++
		return Command{Kind: KindCommit}, p.expectEnd()
	case "ROLLBACK":
		p.pos++
		return Command{Kind: KindRollback}, p.expectEnd()
	case "DEFINE":
		return p.defineSchemaStatement()
	case "EXECUTE":
		return p.executeStatement()
	case "BACKUP":
		return p.backupStatement()
	case "RESTORE":
		return p.restoreStatement()
	default:
		return Command{}, fmt.Errorf("parser: unsupported statement starting with %q", t.Text)
	}
}

func (p *cursor) createStatement() (Command, error) {
	p.pos++ // CREATE
	switch {
	case p.eat("TABLE"):
		name, err := p.ident()
		if err != nil {
			return Command{}, fmt.Errorf("parser: CREATE TABLE: %w", err)
		}
		return Command{Kind: KindCreateTable, Table: name}, p.expectEnd()

	case p.eat("INDEX"):
		// CREATE INDEX ON t (field) — an optional index name is accepted
		// and ignored; indexes are addressed by (table, field).
		if !p.kw("ON") {
			if _, err := p.ident(); err != nil {
				return Command{}, fmt.Errorf("parser: CREATE INDEX: %w", err)
			}
		}
		if err := p.expectKw("ON"); err != nil {
			return Command{}, err
		}
		table, err := p.ident()
		if err != nil {
			return Command{}, fmt.Errorf("parser: CREATE INDEX: %w", err)
		}
		if err := p.expectPunct("("); err != nil {
			return Command{}, err
		}
		field, err := p.ident()
		if err != nil {
			return Command{}, fmt.Errorf("parser: CREATE INDEX: %w", err)
		}
		if err := p.expectPunct(")"); err != nil {
			return Command{}, err
		}
		return Command{Kind: KindCreateIndex, Table: table, Field: field}, p.expectEnd()

	case p.eat("VIEW"):
		name, err := p.ident()
		if err != nil {
			return Command{}, fmt.Errorf("parser: CREATE VIEW: %w", err)
		}
		if err := p.expectKw("AS"); err != nil {
			return Command{}, err
		}
		raw := p.rest()
		sel, err := p.selectStatement()
		if err != nil {
			return Command{}, fmt.Errorf("parser: CREATE VIEW: %w", err)
		}
		if sel.Kind != KindSelect {
			return Command{}, fmt.Errorf("parser: CREATE VIEW requires a plain SELECT")
		}
		sel.Text = raw
		return Command{Kind: KindCreateView, Name: name, Select: &sel}, nil

	case p.eat("TRIGGER"):
		return p.createTrigger()

	case p.eat("PROCEDURE"):
		name, err := p.ident()
		if err != nil {
			return Command{}, fmt.Errorf("parser: CREATE PROCEDURE: %w", err)
		}
		if err := p.expectKw("AS"); err != nil {
			return Command{}, err
		}
		body := p.rest()
		if body == "" {
			return Command{}, fmt.Errorf("parser: CREATE PROCEDURE %s has an empty body", name)
		}
		var stmts []string
		for _, part := range strings.Split(body, ";") {
			part = strings.TrimSpace(part)
			if part != "" {
				stmts = append(stmts, part)
			}
		}
		return Command{Kind: KindCreateProc, Name: name, Statements: stmts}, nil

	default:
		return Command{}, fmt.Errorf("parser: unsupported CREATE target")
	}
}

func (p *cursor) createTrigger() (Command, error) {
	name, err := p.ident()
	if err != nil {
		return Command{}, fmt.Errorf("parser: CREATE TRIGGER: %w", err)
	}
	var timing string
	switch {
	case p.eat("BEFORE"):
		timing = "BEFORE"
	case p.eat("AFTER"):
		timing = "AFTER"
	default:
		return Command{}, fmt.Errorf("parser: CREATE TRIGGER expects BEFORE or AFTER")
	}
	var event string
	switch {
	case p.eat("INSERT"):
		event = "INSERT"
	case p.eat("UPDATE"):
		event = "UPDATE"
	case p.eat("DELETE"):
		event = "DELETE"
	default:
		return Command{}, fmt.Errorf("parser: CREATE TRIGGER expects INSERT, UPDATE or DELETE")
	}
	if err := p.expectKw("ON"); err != nil {
		return Command{}, err
	}
	table, err := p.ident()
	if err != nil {
		return Command{}, fmt.Errorf("parser: CREATE TRIGGER: %w", err)
	}
	if err := p.expectKw("DO"); err != nil {
		return Command{}, err
	}
	action := p.rest()
	if action == "" {
		return Command{}, fmt.Errorf("parser: CREATE TRIGGER %s has an empty action", name)
	}
	return Command{
		Kind:          KindCreateTrigger,
		Name:          name,
		Table:         table,
		TriggerTiming: timing,
		TriggerEvent:  event,
		TriggerAction: action,
	}, nil
}

func (p *cursor) dropStatement() (Command, error) {
	p.pos++ // DROP
	switch {
	case p.eat("TABLE"):
		name, err := p.ident()
		if err != nil {
			return Command{}, fmt.Errorf("parser: DROP TABLE: %w", err)
		}
		return Command{Kind: KindDropTable, Table: name}, p.expectEnd()
	case p.eat("VIEW"):
		name, err := p.ident()
		if err != nil {
			return Command{}, fmt.Errorf("parser: DROP VIEW: %w", err)
		}
		return Command{Kind: KindDropView, Name: name}, p.expectEnd()
	case p.eat("TRIGGER"):
		name, err := p.ident()
		if err != nil {
			return Command{}, fmt.Errorf("parser: DROP TRIGGER: %w", err)
		}
		return Command{Kind: KindDropTrigger, Name: name}, p.expectEnd()
	default:
		return Command{}, fmt.Errorf("parser: unsupported DROP target")
	}
}

func (p *cursor) showStatement() (Command, error) {
	p.pos++ // SHOW
	switch {
	case p.eat("TABLES"), p.eat("TABLE"):
		return Command{Kind: KindShowTables}, p.expectEnd()
	case p.eat("INDEXES"), p.eat("INDEX"):
		return Command{Kind: KindShowIndexes}, p.expectEnd()
	case p.eat("STATS"):
		return Command{Kind: KindShowStats}, p.expectEnd()
	default:
		return Command{}, fmt.Errorf("parser: unsupported SHOW target")
	}
}

func (p *cursor) insertStatement() (Command, error) {
	p.pos++ // INSERT
	if err := p.expectKw("INTO"); err != nil {
		return Command{}, err
	}
	table, err := p.ident()
	if err != nil {
		return Command{}, fmt.Errorf("parser: INSERT: %w", err)
	}
	if err := p.expectPunct("("); err != nil {
		return Command{}, fmt.Errorf("parser: INSERT requires a field list: %w", err)
	}
	var fields []string
	for {
		f, err := p.ident()
		if err != nil {
			return Command{}, fmt.Errorf("parser: INSERT field list: %w", err)
		}
		fields = append(fields, f)
		if p.eatPunct(",") {
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return Command{}, err
	}
	if err := p.expectKw("VALUES"); err != nil {
		return Command{}, err
	}

	var rows []map[string]any
	for {
		if err := p.expectPunct("("); err != nil {
			return Command{}, err
		}
		var vals []any
		for {
			v, err := p.literal()
			if err != nil {
				return Command{}, fmt.Errorf("parser: INSERT values: %w", err)
			}
			vals = append(vals, v)
			if p.eatPunct(",") {
				continue
			}
			break
		}
		if err := p.expectPunct(")"); err != nil {
			return Command{}, err
		}
		if len(vals) != len(fields) {
			return Command{}, fmt.Errorf("parser: INSERT has %d fields but %d values", len(fields), len(vals))
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[f] = vals[i]
		}
		rows = append(rows, row)
		if p.eatPunct(",") {
			continue
		}
		break
	}
	cmd := Command{Kind: KindInsert, Table: table, Fields: fields, Rows: rows}
	return cmd, p.expectEnd()
}

// literal parses one value token: number, string, TRUE/FALSE/NULL or @param.
func (p *cursor) literal() (any, error) {
	t, err := p.next()
	if err != nil {
		return nil, err
	}
	switch t.Kind {
	case TokNumber:
		if strings.ContainsRune(t.Text, '.') {
			f, err := strconv.ParseFloat(t.Text, 64)
			if err != nil {
				return nil, fmt.Errorf("parser: bad number %q", t.Text)
			}
			return f, nil
		}
		n, err := strconv.ParseInt(t.Text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parser: bad number %q", t.Text)
		}
		return n, nil
	case TokString:
		return t.Text, nil
	case TokParam:
		return Param{Name: t.Text}, nil
	case TokIdent:
		switch strings.ToUpper(t.Text) {
		case "NULL":
			return nil, nil
		case "TRUE":
			return true, nil
		case "FALSE":
			return false, nil
		}
		return nil, fmt.Errorf("parser: unexpected identifier %q, expected a literal", t.Text)
	default:
		return nil, fmt.Errorf("parser: unexpected token %q, expected a literal", t.Text)
	}
}

func (p *cursor) updateStatement() (Command, error) {
	p.pos++ // UPDATE
	table, err := p.ident()
	if err != nil {
		return Command{}, fmt.Errorf("parser: UPDATE: %w", err)
	}
	if err := p.expectKw("SET"); err != nil {
		return Command{}, err
	}
	assigns := make(map[string]any)
	for {
		col, err := p.ident()
		if err != nil {
			return Command{}, fmt.Errorf("parser: UPDATE assignment: %w", err)
		}
		t, err := p.next()
		if err != nil || t.Kind != TokOp || t.Text != "=" {
			return Command{}, fmt.Errorf("parser: UPDATE assignment for %s requires '='", col)
		}
		v, err := p.literal()
		if err != nil {
			return Command{}, fmt.Errorf("parser: UPDATE assignment: %w", err)
		}
		assigns[col] = v
		if p.eatPunct(",") {
			continue
		}
		break
	}
	cmd := Command{Kind: KindUpdate, Table: table, Assignments: assigns}
	if p.eat("WHERE") {
		crit, err := p.whereClause()
		if err != nil {
			return Command{}, err
		}
		cmd.Criteria = crit
	}
	return cmd, p.expectEnd()
}

func (p *cursor) deleteStatement() (Command, error) {
	p.pos++ // DELETE
	// the dialect maps its single removal keyword here, so both
	// DELETE FROM t and DELETE TABLE t (drop) arrive at this branch
	if p.eat("TABLE") {
		name, err := p.ident()
		if err != nil {
			return Command{}, fmt.Errorf("parser: DROP TABLE: %w", err)
		}
		return Command{Kind: KindDropTable, Table: name}, p.expectEnd()
	}
	if p.eat("VIEW") {
		name, err := p.ident()
		if err != nil {
			return Command{}, fmt.Errorf("parser: DROP VIEW: %w", err)
		}
		return Command{Kind: KindDropView, Name: name}, p.expectEnd()
	}
	if p.eat("TRIGGER") {
		name, err := p.ident()
		if err != nil {
			return Command{}, fmt.Errorf("parser: DROP TRIGGER: %w", err)
		}
		return Command{Kind: KindDropTrigger, Name: name}, p.expectEnd()
	}
	if err := p.expectKw("FROM"); err != nil {
		return Command{}, err
	}
	table, err := p.ident()
	if err != nil {
		return Command{}, fmt.Errorf("parser: DELETE: %w", err)
	}
	cmd := Command{Kind: KindDelete, Table: table}
	if p.eat("WHERE") {
		crit, err := p.whereClause()
		if err != nil {
			return Command{}, err
		}
		cmd.Criteria = crit
	}
	return cmd, p.expectEnd()
}

func (p *cursor) explainStatement() (Command, error) {
	p.pos++ // EXPLAIN
	inner, err := p.statement()
	if err != nil {
		return Command{}, fmt.Errorf("parser: EXPLAIN: %w", err)
	}
	switch inner.Kind {
	case KindSelect, KindAggregate:
	default:
		return Command{}, fmt.Errorf("parser: EXPLAIN supports SELECT statements")
	}
	return Command{Kind: KindExplain, Select: &inner}, nil
}

func (p *cursor) defineSchemaStatement() (Command, error) {
	p.pos++ // DEFINE
	if err := p.expectKw("SCHEMA"); err != nil {
		return Command{}, err
	}
	table, err := p.ident()
	if err != nil {
		return Command{}, fmt.Errorf("parser: DEFINE SCHEMA: %w", err)
	}
	if err := p.expectPunct("("); err != nil {
		return Command{}, err
	}
	var fields []SchemaField
	for {
		name, err := p.ident()
		if err != nil {
			return Command{}, fmt.Errorf("parser: DEFINE SCHEMA field: %w", err)
		}
		typ, err := p.ident()
		if err != nil {
			return Command{}, fmt.Errorf("parser: DEFINE SCHEMA field %s needs a type", name)
		}
		sf := SchemaField{Name: name, Type: strings.ToUpper(typ)}
	attrs:
		for {
			switch {
			case p.eat("REQUIRED"):
				sf.Required = true
			case p.eat("DEFAULT"):
				v, err := p.literal()
				if err != nil {
					return Command{}, fmt.Errorf("parser: DEFINE SCHEMA default for %s: %w", name, err)
				}
				sf.Default = v
				sf.HasDef = true
			default:
				break attrs
			}
		}
		fields = append(fields, sf)
		if p.eatPunct(",") {
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return Command{}, err
	}
	return Command{Kind: KindDefineSchema, Table: table, SchemaFields: fields}, p.expectEnd()
}

func (p *cursor) executeStatement() (Command, error) {
	p.pos++ // EXECUTE
	p.eat("PROCEDURE")
	name, err := p.ident()
	if err != nil {
		return Command{}, fmt.Errorf("parser: EXECUTE: %w", err)
	}
	return Command{Kind: KindExecuteProc, Name: name}, p.expectEnd()
}

func (p *cursor) backupStatement() (Command, error) {
	p.pos++ // BACKUP
	p.eat("TO")
	t, err := p.next()
	if err != nil || t.Kind != TokString {
		return Command{}, fmt.Errorf("parser: BACKUP requires a quoted file name")
	}
	return Command{Kind: KindBackup, Name: t.Text}, p.expectEnd()
}

func (p *cursor) restoreStatement() (Command, error) {
	p.pos++ // RESTORE
	p.eat("FROM")
	t, err := p.next()
	if err != nil || t.Kind != TokString {
		return Command{}, fmt.Errorf("parser: RESTORE requires a quoted file name")
	}
	return Command{Kind: KindRestore, Name: t.Text}, p.expectEnd()
}
