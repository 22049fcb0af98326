package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Empty(t *testing.T) {
	assert.Equal(t, KindEmpty, Parse("", nil).Kind)
	assert.Equal(t, KindEmpty, Parse("   ;  ", nil).Kind)
}

func TestParse_CreateTable(t *testing.T) {
	cmd := Parse("CREATE TABLE users;", nil)
	require.Equal(t, KindCreateTable, cmd.Kind)
	assert.Equal(t, "users", cmd.Table)
}

func TestParse_CreateTable_Dialect(t *testing.T) {
	cmd := Parse("BUAT TABEL pengguna;", nil)
	require.Equal(t, KindCreateTable, cmd.Kind)
	assert.Equal(t, "pengguna", cmd.Table)
}

func TestParse_Insert(t *testing.T) {
	cmd := Parse("INSERT INTO users (id, name, active, note) VALUES (1, 'A', true, NULL);", nil)
	require.Equal(t, KindInsert, cmd.Kind)
	assert.Equal(t, "users", cmd.Table)
	require.Len(t, cmd.Rows, 1)
	assert.Equal(t, int64(1), cmd.Rows[0]["id"])
	assert.Equal(t, "A", cmd.Rows[0]["name"])
	assert.Equal(t, true, cmd.Rows[0]["active"])
	assert.Nil(t, cmd.Rows[0]["note"])
}

func TestParse_InsertMultiRow(t *testing.T) {
	cmd := Parse("INSERT INTO t (a) VALUES (1), (2), (3);", nil)
	require.Equal(t, KindInsert, cmd.Kind)
	require.Len(t, cmd.Rows, 3)
	assert.Equal(t, int64(2), cmd.Rows[1]["a"])
}

func TestParse_Insert_Dialect(t *testing.T) {
	cmd := Parse("MASUKKAN KE pengguna (id, nama) NILAI (1, 'Budi');", nil)
	require.Equal(t, KindInsert, cmd.Kind)
	assert.Equal(t, "pengguna", cmd.Table)
	assert.Equal(t, "Budi", cmd.Rows[0]["nama"])
}

func TestParse_Insert_ArityMismatch(t *testing.T) {
	cmd := Parse("INSERT INTO t (a, b) VALUES (1);", nil)
	assert.Equal(t, KindError, cmd.Kind)
	assert.NotEmpty(t, cmd.Err)
}

func TestParse_SelectStar(t *testing.T) {
	cmd := Parse("SELECT * FROM users;", nil)
	require.Equal(t, KindSelect, cmd.Kind)
	assert.Equal(t, "users", cmd.Table)
	assert.Equal(t, []string{"*"}, cmd.Fields)
	assert.Nil(t, cmd.Criteria)
	assert.Equal(t, -1, cmd.Limit)
	assert.Equal(t, -1, cmd.Offset)
}

func TestParse_SelectFull(t *testing.T) {
	cmd := Parse("SELECT DISTINCT name, age FROM users WHERE age >= 21 ORDER BY age DESC LIMIT 10 OFFSET 5;", nil)
	require.Equal(t, KindSelect, cmd.Kind)
	assert.True(t, cmd.Distinct)
	assert.Equal(t, []string{"name", "age"}, cmd.Fields)
	assert.Equal(t, "age", cmd.OrderBy)
	assert.True(t, cmd.Desc)
	assert.Equal(t, 10, cmd.Limit)
	assert.Equal(t, 5, cmd.Offset)
	require.NotNil(t, cmd.Criteria)
	assert.Equal(t, OpGe, cmd.Criteria.Op)
	assert.Equal(t, int64(21), cmd.Criteria.Value)
}

func TestParse_Select_Dialect(t *testing.T) {
	cmd := Parse("PILIH * DARI pengguna DIMANA umur > 17 URUTKAN BERDASAR umur TURUN BATAS 5;", nil)
	require.Equal(t, KindSelect, cmd.Kind)
	assert.Equal(t, "pengguna", cmd.Table)
	assert.Equal(t, "umur", cmd.OrderBy)
	assert.True(t, cmd.Desc)
	assert.Equal(t, 5, cmd.Limit)
	require.NotNil(t, cmd.Criteria)
	assert.Equal(t, OpGt, cmd.Criteria.Op)
}

func TestParse_WherePrecedence_AndBindsTighter(t *testing.T) {
	cmd := Parse("SELECT * FROM t WHERE a = 1 AND b = 2 OR c = 3;", nil)
	require.Equal(t, KindSelect, cmd.Kind)
	crit := cmd.Criteria
	require.NotNil(t, crit)
	require.Equal(t, LogicOr, crit.Logic)
	require.Len(t, crit.Kids, 2)

	and := crit.Kids[0]
	require.Equal(t, LogicAnd, and.Logic)
	require.Len(t, and.Kids, 2)
	assert.Equal(t, "a", and.Kids[0].Field)
	assert.Equal(t, "b", and.Kids[1].Field)

	assert.Equal(t, "c", crit.Kids[1].Field)
}

func TestParse_WhereOperators(t *testing.T) {
	cases := []struct {
		sql string
		op  string
	}{
		{"SELECT * FROM t WHERE a != 1;", OpNe},
		{"SELECT * FROM t WHERE a <> 1;", OpNe},
		{"SELECT * FROM t WHERE a < 1;", OpLt},
		{"SELECT * FROM t WHERE a <= 1;", OpLe},
		{"SELECT * FROM t WHERE a > 1;", OpGt},
		{"SELECT * FROM t WHERE a >= 1;", OpGe},
	}
	for _, tc := range cases {
		cmd := Parse(tc.sql, nil)
		require.Equal(t, KindSelect, cmd.Kind, tc.sql)
		assert.Equal(t, tc.op, cmd.Criteria.Op, tc.sql)
	}
}

func TestParse_Between(t *testing.T) {
	cmd := Parse("SELECT * FROM t WHERE age BETWEEN 18 AND 30 AND active = true;", nil)
	require.Equal(t, KindSelect, cmd.Kind)
	crit := cmd.Criteria
	require.Equal(t, LogicAnd, crit.Logic)
	between := crit.Kids[0]
	assert.Equal(t, OpBetween, between.Op)
	assert.Equal(t, int64(18), between.Low)
	assert.Equal(t, int64(30), between.High)
	assert.Equal(t, "active", crit.Kids[1].Field)
}

func TestParse_InAndNotIn(t *testing.T) {
	cmd := Parse("SELECT * FROM t WHERE c IN (1, 'two', 3);", nil)
	require.Equal(t, KindSelect, cmd.Kind)
	assert.Equal(t, OpIn, cmd.Criteria.Op)
	assert.Equal(t, []any{int64(1), "two", int64(3)}, cmd.Criteria.Values)

	cmd = Parse("SELECT * FROM t WHERE c NOT IN (4);", nil)
	require.Equal(t, KindSelect, cmd.Kind)
	assert.Equal(t, OpNotIn, cmd.Criteria.Op)
}

func TestParse_LikeAndNullTests(t *testing.T) {
	cmd := Parse("SELECT * FROM t WHERE name LIKE 'Jo%';", nil)
	require.Equal(t, KindSelect, cmd.Kind)
	assert.Equal(t, OpLike, cmd.Criteria.Op)
	assert.Equal(t, "Jo%", cmd.Criteria.Value)

	cmd = Parse("SELECT * FROM t WHERE x IS NULL;", nil)
	assert.Equal(t, OpIsNull, cmd.Criteria.Op)

	cmd = Parse("SELECT * FROM t WHERE x IS NOT NULL;", nil)
	assert.Equal(t, OpIsNotNull, cmd.Criteria.Op)
}

func TestParse_Joins(t *testing.T) {
	cmd := Parse("SELECT * FROM employees LEFT JOIN departments ON employees.dept = departments.id;", nil)
	require.Equal(t, KindSelect, cmd.Kind)
	require.Len(t, cmd.Joins, 1)
	j := cmd.Joins[0]
	assert.Equal(t, "LEFT", j.Type)
	assert.Equal(t, "departments", j.Table)
	assert.Equal(t, "employees.dept", j.LeftField)
	assert.Equal(t, "departments.id", j.RightField)
	assert.Equal(t, OpEq, j.Op)

	cmd = Parse("SELECT * FROM a CROSS JOIN b;", nil)
	require.Equal(t, KindSelect, cmd.Kind)
	require.Len(t, cmd.Joins, 1)
	assert.Equal(t, "CROSS", cmd.Joins[0].Type)

	cmd = Parse("SELECT * FROM a FULL OUTER JOIN b ON a.x = b.y;", nil)
	require.Equal(t, KindSelect, cmd.Kind)
	assert.Equal(t, "FULL", cmd.Joins[0].Type)
}

func TestParse_Update(t *testing.T) {
	cmd := Parse("UPDATE users SET name = 'B', age = 30 WHERE id = 1;", nil)
	require.Equal(t, KindUpdate, cmd.Kind)
	assert.Equal(t, "users", cmd.Table)
	assert.Equal(t, "B", cmd.Assignments["name"])
	assert.Equal(t, int64(30), cmd.Assignments["age"])
	require.NotNil(t, cmd.Criteria)
}

func TestParse_Delete(t *testing.T) {
	cmd := Parse("DELETE FROM users WHERE id = 9;", nil)
	require.Equal(t, KindDelete, cmd.Kind)
	assert.Equal(t, "users", cmd.Table)

	cmd = Parse("HAPUS DARI pengguna DIMANA id = 9;", nil)
	require.Equal(t, KindDelete, cmd.Kind)
	assert.Equal(t, "pengguna", cmd.Table)
}

func TestParse_DropTable_BothDialects(t *testing.T) {
	cmd := Parse("DROP TABLE users;", nil)
	require.Equal(t, KindDropTable, cmd.Kind)

	cmd = Parse("HAPUS TABEL pengguna;", nil)
	require.Equal(t, KindDropTable, cmd.Kind)
	assert.Equal(t, "pengguna", cmd.Table)
}

func TestParse_CreateIndex(t *testing.T) {
	cmd := Parse("CREATE INDEX ON users (email);", nil)
	require.Equal(t, KindCreateIndex, cmd.Kind)
	assert.Equal(t, "users", cmd.Table)
	assert.Equal(t, "email", cmd.Field)

	// optional index name accepted
	cmd = Parse("CREATE INDEX idx_email ON users (email);", nil)
	require.Equal(t, KindCreateIndex, cmd.Kind)
	assert.Equal(t, "email", cmd.Field)
}

func TestParse_Aggregates(t *testing.T) {
	cmd := Parse("SELECT COUNT(*) FROM t;", nil)
	require.Equal(t, KindAggregate, cmd.Kind)
	require.Len(t, cmd.Aggregates, 1)
	assert.Equal(t, "COUNT", cmd.Aggregates[0].Func)
	assert.Equal(t, "*", cmd.Aggregates[0].Field)

	cmd = Parse("SELECT dept, AVG(salary) AS avg_sal FROM emp GROUP BY dept HAVING avg_sal > 100;", nil)
	require.Equal(t, KindAggregate, cmd.Kind)
	assert.Equal(t, "dept", cmd.GroupBy)
	assert.Equal(t, []string{"dept"}, cmd.Fields)
	require.Len(t, cmd.Aggregates, 1)
	assert.Equal(t, "avg_sal", cmd.Aggregates[0].As)
	require.NotNil(t, cmd.Having)
	assert.Equal(t, "avg_sal", cmd.Having.Field)
}

func TestParse_Transactions(t *testing.T) {
	assert.Equal(t, KindBegin, Parse("BEGIN;", nil).Kind)
	assert.Equal(t, KindCommit, Parse("COMMIT;", nil).Kind)
	assert.Equal(t, KindRollback, Parse("ROLLBACK;", nil).Kind)
	assert.Equal(t, KindBegin, Parse("MULAI;", nil).Kind)
	assert.Equal(t, KindCommit, Parse("SELESAI;", nil).Kind)
	assert.Equal(t, KindRollback, Parse("BATAL;", nil).Kind)
}

func TestParse_Views(t *testing.T) {
	cmd := Parse("CREATE VIEW adults AS SELECT * FROM users WHERE age >= 18;", nil)
	require.Equal(t, KindCreateView, cmd.Kind)
	assert.Equal(t, "adults", cmd.Name)
	require.NotNil(t, cmd.Select)
	assert.Equal(t, KindSelect, cmd.Select.Kind)
	assert.Contains(t, cmd.Select.Text, "SELECT * FROM users")

	cmd = Parse("DROP VIEW adults;", nil)
	require.Equal(t, KindDropView, cmd.Kind)
	assert.Equal(t, "adults", cmd.Name)
}

func TestParse_DefineSchema(t *testing.T) {
	cmd := Parse("DEFINE SCHEMA users (age NUMBER REQUIRED, name TEXT, vip BOOLEAN DEFAULT false, joined DATE);", nil)
	require.Equal(t, KindDefineSchema, cmd.Kind)
	require.Len(t, cmd.SchemaFields, 4)
	assert.Equal(t, SchemaField{Name: "age", Type: "NUMBER", Required: true}, cmd.SchemaFields[0])
	assert.Equal(t, "TEXT", cmd.SchemaFields[1].Type)
	assert.True(t, cmd.SchemaFields[2].HasDef)
	assert.Equal(t, false, cmd.SchemaFields[2].Default)
}

func TestParse_DefineSchema_DialectTypes(t *testing.T) {
	cmd := Parse("TENTUKAN SKEMA pengguna (umur ANGKA, nama TEKS, aktif BENAR_SALAH, lahir TANGGAL);", nil)
	require.Equal(t, KindDefineSchema, cmd.Kind)
	assert.Equal(t, "ANGKA", cmd.SchemaFields[0].Type)
	assert.Equal(t, "BENAR_SALAH", cmd.SchemaFields[2].Type)
}

func TestParse_Triggers(t *testing.T) {
	cmd := Parse("CREATE TRIGGER log_ins AFTER INSERT ON users DO INSERT INTO log (msg) VALUES ('new user');", nil)
	require.Equal(t, KindCreateTrigger, cmd.Kind)
	assert.Equal(t, "log_ins", cmd.Name)
	assert.Equal(t, "users", cmd.Table)
	assert.Equal(t, "AFTER", cmd.TriggerTiming)
	assert.Equal(t, "INSERT", cmd.TriggerEvent)
	assert.Contains(t, cmd.TriggerAction, "INSERT INTO log")

	cmd = Parse("DROP TRIGGER log_ins;", nil)
	require.Equal(t, KindDropTrigger, cmd.Kind)
}

func TestParse_Procedures(t *testing.T) {
	cmd := Parse("CREATE PROCEDURE setup AS CREATE TABLE a; CREATE TABLE b;", nil)
	require.Equal(t, KindCreateProc, cmd.Kind)
	assert.Equal(t, "setup", cmd.Name)
	assert.Equal(t, []string{"CREATE TABLE a", "CREATE TABLE b"}, cmd.Statements)

	cmd = Parse("EXECUTE PROCEDURE setup;", nil)
	require.Equal(t, KindExecuteProc, cmd.Kind)
	assert.Equal(t, "setup", cmd.Name)

	cmd = Parse("EXECUTE setup;", nil)
	require.Equal(t, KindExecuteProc, cmd.Kind)
}

func TestParse_Explain(t *testing.T) {
	cmd := Parse("EXPLAIN SELECT * FROM t WHERE id = 1;", nil)
	require.Equal(t, KindExplain, cmd.Kind)
	require.NotNil(t, cmd.Select)
	assert.Equal(t, KindSelect, cmd.Select.Kind)
}

func TestParse_BackupRestore(t *testing.T) {
	cmd := Parse("BACKUP TO 'snap1';", nil)
	require.Equal(t, KindBackup, cmd.Kind)
	assert.Equal(t, "snap1", cmd.Name)

	cmd = Parse("RESTORE FROM 'snap1';", nil)
	require.Equal(t, KindRestore, cmd.Kind)
	assert.Equal(t, "snap1", cmd.Name)
}

func TestParse_ShowStatements(t *testing.T) {
	assert.Equal(t, KindShowTables, Parse("SHOW TABLES;", nil).Kind)
	assert.Equal(t, KindShowIndexes, Parse("SHOW INDEXES;", nil).Kind)
	assert.Equal(t, KindShowStats, Parse("SHOW STATS;", nil).Kind)
	assert.Equal(t, KindShowTables, Parse("TAMPILKAN TABEL;", nil).Kind)
	assert.Equal(t, KindShowStats, Parse("TAMPILKAN STATISTIK;", nil).Kind)
}

func TestParse_ErrorsNeverPanic(t *testing.T) {
	bad := []string{
		"SELECT FROM;",
		"INSERT INTO;",
		"CREATE;",
		"UPDATE t;",
		"SELECT * FROM t WHERE;",
		"SELECT * FROM t WHERE a;",
		"DELETE users;",
		"%%%%",
		"'unterminated",
		"SELECT * FROM t LIMIT -3;",
	}
	for _, sql := range bad {
		cmd := Parse(sql, nil)
		assert.Equal(t, KindError, cmd.Kind, "input %q", sql)
		assert.NotEmpty(t, cmd.Err, "input %q", sql)
	}
}

func TestParams_Binding(t *testing.T) {
	cmd := Parse("SELECT * FROM t WHERE id = @id AND name = @name;",
		map[string]any{"id": 7, "name": "x"})
	require.Equal(t, KindSelect, cmd.Kind)
	and := cmd.Criteria
	require.Equal(t, LogicAnd, and.Logic)
	assert.Equal(t, 7, and.Kids[0].Value)
	assert.Equal(t, "x", and.Kids[1].Value)
}

func TestParams_UnboundStaysLiteral(t *testing.T) {
	cmd := Parse("SELECT * FROM t WHERE id = @missing;", nil)
	require.Equal(t, KindSelect, cmd.Kind)
	assert.Equal(t, "@missing", cmd.Criteria.Value)
}

func TestParams_InsertAndUpdate(t *testing.T) {
	cmd := Parse("INSERT INTO t (a, b) VALUES (@a, @b);", map[string]any{"a": 1, "b": "two"})
	require.Equal(t, KindInsert, cmd.Kind)
	assert.Equal(t, 1, cmd.Rows[0]["a"])
	assert.Equal(t, "two", cmd.Rows[0]["b"])

	cmd = Parse("UPDATE t SET a = @a WHERE id = @id;", map[string]any{"a": 5, "id": 2})
	require.Equal(t, KindUpdate, cmd.Kind)
	assert.Equal(t, 5, cmd.Assignments["a"])
	assert.Equal(t, 2, cmd.Criteria.Value)
}

func TestCache_TemplateSurvivesBinding(t *testing.T) {
	cache := NewCache(8)
	sql := "SELECT * FROM t WHERE id = @id;"

	first := cache.Parse(sql, map[string]any{"id": 1})
	assert.Equal(t, 1, first.Criteria.Value)

	second := cache.Parse(sql, map[string]any{"id": 2})
	assert.Equal(t, 2, second.Criteria.Value)

	// binding the second time must not have seen the first binding
	third := cache.Parse(sql, nil)
	assert.Equal(t, "@id", third.Criteria.Value)
}

func TestTokenize_Strings(t *testing.T) {
	toks, err := Tokenize(`a = "double \"quoted\"" AND b = 'it\'s'`)
	require.NoError(t, err)
	var strs []string
	for _, tok := range toks {
		if tok.Kind == TokString {
			strs = append(strs, tok.Text)
		}
	}
	assert.Equal(t, []string{`double "quoted"`, "it's"}, strs)
}

func TestTokenize_Numbers(t *testing.T) {
	toks, err := Tokenize("1 -2 3.5 -4.25")
	require.NoError(t, err)
	var nums []string
	for _, tok := range toks {
		if tok.Kind == TokNumber {
			nums = append(nums, tok.Text)
		}
	}
	assert.Equal(t, []string{"1", "-2", "3.5", "-4.25"}, nums)
}

func TestTokenize_DottedIdentifiers(t *testing.T) {
	toks, err := Tokenize("users.name")
	require.NoError(t, err)
	require.Len(t, toks, 1)
	assert.Equal(t, "users.name", toks[0].Text)
}
