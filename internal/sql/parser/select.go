package parser

import (
	"fmt"
	"strconv"
	"strings"
)

var aggregateFuncs = map[string]bool{
	"COUNT": true,
	"SUM":   true,
	"AVG":   true,
	"MIN":   true,
	"MAX":   true,
}

func (p *cursor) selectStatement() (Command, error) {
	p.pos++ // SELECT
	cmd := Command{Kind: KindSelect, Limit: -1, Offset: -1}

	if p.eat("DISTINCT") {
		cmd.Distinct = true
	}

	// select list: * | items (plain fields and/or aggregate calls)
	if p.eatPunct("*") {
		cmd.Fields = []string{"*"}
	} else {
		for {
			item, agg, err := p.selectItem()
			if err != nil {
				return Command{}, err
			}
			if agg != nil {
				cmd.Aggregates = append(cmd.Aggregates, *agg)
			} else {
				cmd.Fields = append(cmd.Fields, item)
			}
			if p.eatPunct(",") {
				continue
			}
			break
		}
	}

	if err := p.expectKw("FROM"); err != nil {
		return Command{}, err
	}
	table, err := p.ident()
	if err != nil {
		return Command{}, fmt.Errorf("parser: SELECT: %w", err)
	}
	cmd.Table = table

	// joins
	for {
		join, ok, err := p.joinClause()
		if err != nil {
			return Command{}, err
		}
		if !ok {
			break
		}
		cmd.Joins = append(cmd.Joins, join)
	}

	if p.eat("WHERE") {
		crit, err := p.whereClause()
		if err != nil {
			return Command{}, err
		}
		cmd.Criteria = crit
	}

	if p.eat("GROUP") {
		if err := p.expectKw("BY"); err != nil {
			return Command{}, err
		}
		f, err := p.ident()
		if err != nil {
			return Command{}, fmt.Errorf("parser: GROUP BY: %w", err)
		}
		cmd.GroupBy = f
	}

	if p.eat("HAVING") {
		crit, err := p.whereClause()
		if err != nil {
			return Command{}, err
		}
		cmd.Having = crit
	}

	if p.eat("ORDER") {
		if err := p.expectKw("BY"); err != nil {
			return Command{}, err
		}
		f, err := p.ident()
		if err != nil {
			return Command{}, fmt.Errorf("parser: ORDER BY: %w", err)
		}
		cmd.OrderBy = f
		if p.eat("DESC") {
			cmd.Desc = true
		} else {
			p.eat("ASC")
		}
	}

	if p.eat("LIMIT") {
		n, err := p.intLiteral()
		if err != nil {
			return Command{}, fmt.Errorf("parser: LIMIT: %w", err)
		}
		if n < 0 {
			return Command{}, fmt.Errorf("parser: LIMIT must not be negative")
		}
		cmd.Limit = n
	}
	if p.eat("OFFSET") {
		n, err := p.intLiteral()
		if err != nil {
			return Command{}, fmt.Errorf("parser: OFFSET: %w", err)
		}
		if n < 0 {
			return Command{}, fmt.Errorf("parser: OFFSET must not be negative")
		}
		cmd.Offset = n
	}

	if len(cmd.Aggregates) > 0 {
		if len(cmd.Fields) > 0 && cmd.GroupBy == "" {
			return Command{}, fmt.Errorf("parser: mixing plain fields and aggregates requires GROUP BY")
		}
		cmd.Kind = KindAggregate
	} else if cmd.GroupBy != "" || cmd.Having != nil {
		return Command{}, fmt.Errorf("parser: GROUP BY and HAVING require an aggregate select list")
	}

	return cmd, p.expectEnd()
}

// selectItem parses one select-list entry: either a field reference or an
// aggregate call AGG(field|*) [AS name].
func (p *cursor) selectItem() (string, *Aggregate, error) {
	name, err := p.ident()
	if err != nil {
		return "", nil, fmt.Errorf("parser: select list: %w", err)
	}
	if aggregateFuncs[strings.ToUpper(name)] && p.eatPunct("(") {
		agg := Aggregate{Func: strings.ToUpper(name)}
		if p.eatPunct("*") {
			agg.Field = "*"
		} else {
			f, err := p.ident()
			if err != nil {
				return "", nil, fmt.Errorf("parser: %s(): %w", agg.Func, err)
			}
			agg.Field = f
		}
		if err := p.expectPunct(")"); err != nil {
			return "", nil, err
		}
		if agg.Func != "COUNT" && agg.Field == "*" {
			return "", nil, fmt.Errorf("parser: %s(*) is not supported", agg.Func)
		}
		if p.eat("AS") {
			as, err := p.ident()
			if err != nil {
				return "", nil, fmt.Errorf("parser: AS: %w", err)
			}
			agg.As = as
		}
		return "", &agg, nil
	}
	return name, nil, nil
}

func (p *cursor) joinClause() (Join, bool, error) {
	join := Join{Type: "INNER"}
	switch {
	case p.eat("INNER"):
	case p.eat("LEFT"):
		p.eat("OUTER")
		join.Type = "LEFT"
	case p.eat("RIGHT"):
		p.eat("OUTER")
		join.Type = "RIGHT"
	case p.eat("FULL"):
		p.eat("OUTER")
		join.Type = "FULL"
	case p.eat("CROSS"):
		join.Type = "CROSS"
	case p.kw("JOIN"):
	default:
		return Join{}, false, nil
	}
	if err := p.expectKw("JOIN"); err != nil {
		return Join{}, false, err
	}
	table, err := p.ident()
	if err != nil {
		return Join{}, false, fmt.Errorf("parser: JOIN: %w", err)
	}
	join.Table = table

	if join.Type == "CROSS" {
		return join, true, nil
	}

	if err := p.expectKw("ON"); err != nil {
		return Join{}, false, err
	}
	left, err := p.ident()
	if err != nil {
		return Join{}, false, fmt.Errorf("parser: JOIN ON: %w", err)
	}
	t, err := p.next()
	if err != nil || t.Kind != TokOp {
		return Join{}, false, fmt.Errorf("parser: JOIN ON requires a comparison operator")
	}
	right, err := p.ident()
	if err != nil {
		return Join{}, false, fmt.Errorf("parser: JOIN ON: %w", err)
	}
	join.LeftField = left
	join.RightField = right
	join.Op = t.Text
	return join, true, nil
}

func (p *cursor) intLiteral() (int, error) {
	t, err := p.next()
	if err != nil {
		return 0, err
	}
	if t.Kind != TokNumber {
		return 0, fmt.Errorf("expected a number, got %q", t.Text)
	}
	n, err := strconv.Atoi(t.Text)
	if err != nil {
		return 0, fmt.Errorf("expected an integer, got %q", t.Text)
	}
	return n, nil
}

// whereClause parses a flat sequence of comparisons joined by AND/OR. AND
// binds tighter: adjacent AND-linked comparisons group into compound AND
// nodes first, then the groups join under one OR node.
func (p *cursor) whereClause() (*Condition, error) {
	var terms []*Condition
	var connectives []string

	for {
		cond, err := p.comparison()
		if err != nil {
			return nil, err
		}
		terms = append(terms, cond)

		switch {
		case p.eat("AND"):
			connectives = append(connectives, LogicAnd)
		case p.eat("OR"):
			connectives = append(connectives, LogicOr)
		default:
			return foldConditions(terms, connectives), nil
		}
	}
}

func foldConditions(terms []*Condition, connectives []string) *Condition {
	if len(terms) == 1 {
		return terms[0]
	}
	// group runs of AND-linked terms
	var orTerms []*Condition
	run := []*Condition{terms[0]}
	for i, conn := range connectives {
		if conn == LogicAnd {
			run = append(run, terms[i+1])
			continue
		}
		orTerms = append(orTerms, foldRun(run))
		run = []*Condition{terms[i+1]}
	}
	orTerms = append(orTerms, foldRun(run))
	if len(orTerms) == 1 {
		return orTerms[0]
	}
	return &Condition{Logic: LogicOr, Kids: orTerms}
}

func foldRun(run []*Condition) *Condition {
	if len(run) == 1 {
		return run[0]
	}
	return &Condition{Logic: LogicAnd, Kids: run}
}

// comparison parses one predicate leaf:
//
//	field OP literal | field [NOT] BETWEEN a AND b | field [NOT] IN (...)
//	| field [NOT] LIKE 'p' | field IS [NOT] NULL
func (p *cursor) comparison() (*Condition, error) {
	field, err := p.ident()
	if err != nil {
		return nil, fmt.Errorf("parser: WHERE: %w", err)
	}

	negated := p.eat("NOT")

	switch {
	case p.eat("BETWEEN"):
		lo, err := p.literal()
		if err != nil {
			return nil, fmt.Errorf("parser: BETWEEN: %w", err)
		}
		if err := p.expectKw("AND"); err != nil {
			return nil, err
		}
		hi, err := p.literal()
		if err != nil {
			return nil, fmt.Errorf("parser: BETWEEN: %w", err)
		}
		if negated {
			return nil, fmt.Errorf("parser: NOT BETWEEN is not supported")
		}
		return &Condition{Field: field, Op: OpBetween, Low: lo, High: hi}, nil

	case p.eat("IN"):
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		var vals []any
		for {
			v, err := p.literal()
			if err != nil {
				return nil, fmt.Errorf("parser: IN list: %w", err)
			}
			vals = append(vals, v)
			if p.eatPunct(",") {
				continue
			}
			break
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		op := OpIn
		if negated {
			op = OpNotIn
		}
		return &Condition{Field: field, Op: op, Values: vals}, nil

	case p.eat("LIKE"):
		if negated {
			return nil, fmt.Errorf("parser: NOT LIKE is not supported")
		}
		v, err := p.literal()
		if err != nil {
			return nil, fmt.Errorf("parser: LIKE: %w", err)
		}
		if _, ok := v.(string); !ok {
			if _, isParam := v.(Param); !isParam {
				return nil, fmt.Errorf("parser: LIKE requires a string pattern")
			}
		}
		return &Condition{Field: field, Op: OpLike, Value: v}, nil

	case p.eat("IS"):
		if negated {
			return nil, fmt.Errorf("parser: NOT before IS is not supported")
		}
		not := p.eat("NOT")
		if err := p.expectKw("NULL"); err != nil {
			return nil, err
		}
		op := OpIsNull
		if not {
			op = OpIsNotNull
		}
		return &Condition{Field: field, Op: op}, nil

	default:
		if negated {
			return nil, fmt.Errorf("parser: NOT must precede BETWEEN or IN")
		}
		t, err := p.next()
		if err != nil || t.Kind != TokOp {
			return nil, fmt.Errorf("parser: WHERE %s requires a comparison operator", field)
		}
		v, err := p.literal()
		if err != nil {
			return nil, fmt.Errorf("parser: WHERE %s %s: %w", field, t.Text, err)
		}
		return &Condition{Field: field, Op: t.Text, Value: v}, nil
	}
}
