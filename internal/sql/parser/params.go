package parser

// Bind resolves @name placeholders against params on a deep clone of cmd, so
// cached templates stay reusable. An unbound placeholder degrades to the
// literal "@name" string, preserved for backward compatibility.
func Bind(cmd *Command, params map[string]any) *Command {
	cp := cmd.Clone()
	bindCommand(cp, params)
	return cp
}

func bindCommand(cmd *Command, params map[string]any) {
	bindCondition(cmd.Criteria, params)
	bindCondition(cmd.Having, params)
	for _, row := range cmd.Rows {
		for k, v := range row {
			row[k] = bindValue(v, params)
		}
	}
	for k, v := range cmd.Assignments {
		cmd.Assignments[k] = bindValue(v, params)
	}
	if cmd.Select != nil {
		bindCommand(cmd.Select, params)
	}
}

func bindCondition(c *Condition, params map[string]any) {
	if c == nil {
		return
	}
	for _, kid := range c.Kids {
		bindCondition(kid, params)
	}
	c.Value = bindValue(c.Value, params)
	c.Low = bindValue(c.Low, params)
	c.High = bindValue(c.High, params)
	for i, v := range c.Values {
		c.Values[i] = bindValue(v, params)
	}
}

func bindValue(v any, params map[string]any) any {
	p, ok := v.(Param)
	if !ok {
		return v
	}
	if params != nil {
		if bound, ok := params[p.Name]; ok {
			return bound
		}
	}
	return "@" + p.Name
}
