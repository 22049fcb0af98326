package engine

// Observer receives synchronous change events after mutations apply. Sinks
// must be fast; the engine calls them inline.
type Observer interface {
	OnTableInserted(table string, row Row)
	OnTableUpdated(table string, oldRow, newRow Row)
	OnTableDeleted(table string, row Row)
}

type nopObserver struct{}

func (nopObserver) OnTableInserted(string, Row)     {}
func (nopObserver) OnTableUpdated(string, Row, Row) {}
func (nopObserver) OnTableDeleted(string, Row)      {}
